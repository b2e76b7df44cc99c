package generation

import "sceneforge/internal/domain"

// ResolveAsset normalizes a terminal success payload into a directly
// fetchable asset reference. Known URL fields are tried in order of
// preference: the binary model, then the generic source file, then the
// skybox image. A success payload with no recognizable URL is a distinct
// failure, not an overall success.
func ResolveAsset(payload domain.ResultPayload) (domain.Asset, error) {
	for _, url := range []string{payload.ModelGLB, payload.ModelSource, payload.FileURL} {
		if url != "" {
			return domain.Asset{AssetURL: url, ThumbnailURL: payload.ThumbnailURL}, nil
		}
	}
	return domain.Asset{}, domain.ErrNoAssetURL
}
