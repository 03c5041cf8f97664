package action

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

func (r *Registry) registerReleaseActions() {
	r.Register(plan.ActionReleaseCreate, func(a plan.Action) (Action, error) {
		params, err := decodeParams[releaseCreateParams](a)
		if err != nil {
			return nil, err
		}
		return &releaseCreate{base{a}, params}, nil
	})
	r.Register(plan.ActionReleaseAssetUpload, func(a plan.Action) (Action, error) {
		params, err := decodeParams[assetUploadParams](a)
		if err != nil {
			return nil, err
		}
		return &releaseAssetUpload{base{a}, params}, nil
	})
	r.Register(plan.ActionPackagePublish, func(a plan.Action) (Action, error) {
		params, err := decodeParams[packagePublishParams](a)
		if err != nil {
			return nil, err
		}
		return &packagePublish{base{a}, params}, nil
	})
}

type releaseCreateParams struct {
	TagName     string `json:"tag_name"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type releaseCreate struct {
	base
	params releaseCreateParams
}

func (a *releaseCreate) Execute(ctx context.Context, ec *ExecContext) *Result {
	release, err := ec.Dest.CreateRelease(ctx, ec.Owner, ec.Repo, destclient.CreateReleaseParams{
		TagName: a.params.TagName,
		Name:    a.params.Title,
		Body:    a.params.Description,
	})
	if err != nil {
		return a.fail(err)
	}
	ec.IDMappings.Set("release", a.params.TagName, fmt.Sprint(release.ID))
	return a.succeed(
		map[string]any{"id": release.ID, "tag_name": release.TagName},
		map[string]any{"id": release.ID},
	)
}

func (a *releaseCreate) Simulate(ctx context.Context, ec *ExecContext) *Result {
	if _, ok := ec.IDMappings.Get("release", a.params.TagName); ok {
		return a.simulated(WouldSkip, map[string]any{"reason": "release already mapped"})
	}
	return a.simulated(WouldCreate, map[string]any{"tag_name": a.params.TagName})
}

func (a *releaseCreate) Rollback(ctx context.Context, ec *ExecContext, rollbackData map[string]any) error {
	id := int64Field(rollbackData, "id")
	if id == 0 {
		return fmt.Errorf("rollback data missing release id")
	}
	return ec.Dest.DeleteRelease(ctx, ec.Owner, ec.Repo, id)
}

type assetUploadParams struct {
	TagName   string `json:"tag_name"`
	Name      string `json:"name"`
	LocalPath string `json:"local_path"`
}

type releaseAssetUpload struct {
	base
	params assetUploadParams
}

func (a *releaseAssetUpload) assetFile(ec *ExecContext) string {
	return filepath.Join(ec.ArtifactRoot, constants.ExportDir, a.params.LocalPath)
}

func (a *releaseAssetUpload) Execute(ctx context.Context, ec *ExecContext) *Result {
	dest, ok := ec.IDMappings.Get("release", a.params.TagName)
	if !ok {
		return a.fail(fmt.Errorf("no destination mapping for release %s", a.params.TagName))
	}
	var releaseID int64
	fmt.Sscan(dest, &releaseID)

	local := a.assetFile(ec)
	if !fileExists(local) {
		return a.fail(forgeerr.New(forgeerr.CategoryValidation, "exported asset missing: "+local))
	}
	if err := ec.Dest.UploadReleaseAsset(ctx, ec.Owner, ec.Repo, releaseID, a.params.Name, local); err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"name": a.params.Name, "release_id": releaseID}, nil)
}

func (a *releaseAssetUpload) Simulate(ctx context.Context, ec *ExecContext) *Result {
	if !fileExists(a.assetFile(ec)) {
		return a.simulated(WouldFail, map[string]any{"reason": "exported asset missing"})
	}
	return a.simulated(WouldCreate, map[string]any{"name": a.params.Name})
}

func (a *releaseAssetUpload) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("release_asset_upload is not reversible")
}

type packagePublishParams struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	PackageType string `json:"package_type"`
}

type packagePublish struct {
	base
	params packagePublishParams
}

func (a *packagePublish) Execute(ctx context.Context, ec *ExecContext) *Result {
	// Registry bits do not transfer; the action records the manual step so
	// the apply report lists every package left behind.
	return a.succeed(map[string]any{
		"published": false,
		"note": fmt.Sprintf("%s package %s@%s requires manual republication; see export/packages/migrate_packages.sh",
			a.params.PackageType, a.params.Name, a.params.Version),
	}, nil)
}

func (a *packagePublish) Simulate(ctx context.Context, ec *ExecContext) *Result {
	return a.simulated(WouldSkip, map[string]any{"reason": "package registry transfer is manual"})
}

func (a *packagePublish) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("package_publish is not reversible")
}
