package facematch

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// photoExtractor fails detection for one specific image.
type photoExtractor struct {
	*fakeExtractor
	failing string
}

func (p *photoExtractor) Detect(ctx context.Context, image []byte, model string) ([]Region, error) {
	if string(image) == p.failing {
		return nil, errors.New("unreadable image")
	}
	return p.fakeExtractor.Detect(ctx, image, model)
}

func newPhotoExtractor() *photoExtractor {
	ext := newFakeExtractor()
	ext.regions[DetectorCNN] = []Region{face(0, 10), face(50, 40)}
	ext.embeddings[0] = []float32{1, 0}
	ext.embeddings[50] = []float32{0, 1}
	return &photoExtractor{fakeExtractor: ext, failing: "bad"}
}

func TestEmbedImages(t *testing.T) {
	images := [][]byte{[]byte("front"), []byte("bad"), []byte("side")}

	tests := []struct {
		name string
		mode Mode
		want [][]float32
	}{
		{name: "largest face per image", mode: ModeSingle, want: [][]float32{{0, 1}}},
		{name: "every face", mode: ModeAll, want: [][]float32{{1, 0}, {0, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := EmbedImages(context.Background(), newPhotoExtractor(), DetectorCNN, images, tt.mode, 2)
			if err != nil {
				t.Fatalf("EmbedImages: %v", err)
			}
			if len(out) != len(images) {
				t.Fatalf("got %d results, want %d", len(out), len(images))
			}
			for _, i := range []int{0, 2} {
				if out[i].Index != i || out[i].Faces != 2 || out[i].Err != nil {
					t.Errorf("image %d: %+v", i, out[i])
				}
				if !reflect.DeepEqual(out[i].Embeddings, tt.want) {
					t.Errorf("image %d embeddings = %v, want %v", i, out[i].Embeddings, tt.want)
				}
			}
			if out[1].Err == nil || len(out[1].Embeddings) != 0 {
				t.Errorf("failing image should report its error alone, got %+v", out[1])
			}
		})
	}
}

func TestEmbedImages_NoFace(t *testing.T) {
	ext := newFakeExtractor()
	out, err := EmbedImages(context.Background(), ext, DetectorHOG, [][]byte{[]byte("empty")}, ModeSingle, 1)
	if err != nil {
		t.Fatalf("EmbedImages: %v", err)
	}
	if out[0].Faces != 0 || out[0].Err != nil || len(out[0].Embeddings) != 0 {
		t.Errorf("expected an empty result, got %+v", out[0])
	}
}

func TestEmbedImages_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := EmbedImages(ctx, newPhotoExtractor(), DetectorCNN, [][]byte{[]byte("front")}, ModeSingle, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
