package action

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

func (r *Registry) registerIntegrationActions() {
	r.Register(plan.ActionWebhookCreate, func(a plan.Action) (Action, error) {
		params, err := decodeParams[webhookCreateParams](a)
		if err != nil {
			return nil, err
		}
		return &webhookCreate{base{a}, params}, nil
	})
	r.Register(plan.ActionWebhookConfigure, func(a plan.Action) (Action, error) {
		params, err := decodeParams[webhookConfigureParams](a)
		if err != nil {
			return nil, err
		}
		return &webhookConfigure{base{a}, params}, nil
	})
}

type webhookCreateParams struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Secret      string   `json:"secret"`
	InsecureSSL bool     `json:"insecure_ssl"`
}

type webhookCreate struct {
	base
	params webhookCreateParams
}

// resolveSecret prefers the operator-supplied value; with none, a random
// secret is generated since the source never reveals the original.
func (a *webhookCreate) resolveSecret(ec *ExecContext) (string, error) {
	if a.params.Secret != "" && a.params.Secret != constants.UserInputPlaceholder {
		return a.params.Secret, nil
	}
	if v, ok := ec.UserInputs[a.params.URL]; ok && v != "" {
		return v, nil
	}
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating webhook secret: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

func (a *webhookCreate) Execute(ctx context.Context, ec *ExecContext) *Result {
	secret, err := a.resolveSecret(ec)
	if err != nil {
		return a.fail(err)
	}
	hook, err := ec.Dest.CreateWebhook(ctx, ec.Owner, ec.Repo, destclient.CreateWebhookParams{
		URL:         a.params.URL,
		Secret:      secret,
		Events:      a.params.Events,
		Active:      true,
		InsecureSSL: a.params.InsecureSSL,
	})
	if err != nil {
		return a.fail(err)
	}
	ec.IDMappings.Set("webhook", a.params.URL, fmt.Sprint(hook.ID))
	return a.succeed(
		map[string]any{"id": hook.ID, "url": a.params.URL},
		map[string]any{"id": hook.ID},
	)
}

func (a *webhookCreate) Simulate(ctx context.Context, ec *ExecContext) *Result {
	hooks, err := ec.Dest.ListWebhooks(ctx, ec.Owner, ec.Repo)
	if err == nil {
		for _, hook := range hooks {
			if hook.Config.URL == a.params.URL {
				return a.simulated(WouldSkip, map[string]any{"reason": "webhook already exists"})
			}
		}
	}
	return a.simulated(WouldCreate, map[string]any{"url": a.params.URL, "events": a.params.Events})
}

func (a *webhookCreate) Rollback(ctx context.Context, ec *ExecContext, rollbackData map[string]any) error {
	id := int64Field(rollbackData, "id")
	if id == 0 {
		return fmt.Errorf("rollback data missing webhook id")
	}
	return ec.Dest.DeleteWebhook(ctx, ec.Owner, ec.Repo, id)
}

type webhookConfigureParams struct {
	URL         string `json:"url"`
	InsecureSSL bool   `json:"insecure_ssl"`
}

type webhookConfigure struct {
	base
	params webhookConfigureParams
}

func (a *webhookConfigure) Execute(ctx context.Context, ec *ExecContext) *Result {
	dest, ok := ec.IDMappings.Get("webhook", a.params.URL)
	if !ok {
		return a.fail(fmt.Errorf("no destination mapping for webhook %s", a.params.URL))
	}
	var hookID int64
	fmt.Sscan(dest, &hookID)
	if err := ec.Dest.UpdateWebhookConfig(ctx, ec.Owner, ec.Repo, hookID, a.params.URL, a.params.InsecureSSL); err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"id": hookID, "insecure_ssl": a.params.InsecureSSL}, nil)
}

func (a *webhookConfigure) Simulate(ctx context.Context, ec *ExecContext) *Result {
	return a.simulated(WouldUpdate, map[string]any{"url": a.params.URL})
}

func (a *webhookConfigure) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("webhook_configure is not reversible")
}
