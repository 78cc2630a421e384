package facematch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ImageFaces holds the enrollment embeddings extracted from one image.
type ImageFaces struct {
	Index      int // position in the input slice
	Faces      int // faces detected after deduplication
	Embeddings [][]float32
	Err        error // detection or embedding failure for this image only
}

// EmbedImages extracts enrollment embeddings from reference photos.
// ModeSingle keeps the largest face of each image, ModeAll keeps every face.
// A failing image is reported in its ImageFaces and does not stop the others;
// only a cancelled context aborts the whole batch.
func EmbedImages(ctx context.Context, ext Extractor, detector string, images [][]byte, mode Mode, workers int) ([]ImageFaces, error) {
	out := make([]ImageFaces, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, img := range images {
		g.Go(func() error {
			out[i] = embedImage(gctx, ext, detector, img, mode)
			out[i].Index = i
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func embedImage(ctx context.Context, ext Extractor, detector string, image []byte, mode Mode) ImageFaces {
	regions, err := ext.Detect(ctx, image, detector)
	if err != nil {
		return ImageFaces{Err: fmt.Errorf("detect (%s): %w", detector, err)}
	}
	regions = Deduplicate(regions, dedupIoU)
	res := ImageFaces{Faces: len(regions)}
	if len(regions) == 0 {
		return res
	}
	if mode == ModeSingle {
		largest, _ := LargestRegion(regions)
		regions = []Region{largest}
	}
	for _, r := range regions {
		emb, err := ext.Embed(ctx, image, r)
		if err != nil {
			res.Err = fmt.Errorf("embed: %w", err)
			return res
		}
		if len(emb) > 0 {
			res.Embeddings = append(res.Embeddings, emb)
		}
	}
	return res
}
