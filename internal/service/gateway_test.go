package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rin/mnemo/internal/config"
	"github.com/rin/mnemo/internal/domain"
	"github.com/rin/mnemo/internal/logger"
	"github.com/rin/mnemo/internal/storage"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func newTestGateway(t *testing.T, imageURL, modelURL string) (*GenerationGateway, storage.ObjectStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	cfg := &config.GenerationConfig{
		Image:   config.ImageGenConfig{BaseURL: imageURL, TimeoutSeconds: 5},
		Model3D: config.ModelGenConfig{BaseURL: modelURL, TimeoutSeconds: 5},
	}
	return NewGenerationGateway(cfg, store, logger.GetDefault()), store
}

func runCtx(t *testing.T) context.Context {
	t.Helper()
	return logger.SetRunID(t.Context(), "0123456789abcdef")
}

func TestGenerationGateway_ToImage(t *testing.T) {
	imgBytes := testPNG(t)
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req["prompt"] != "a steampunk robot" {
			t.Errorf("prompt = %q, want %q", req["prompt"], "a steampunk robot")
		}
		json.NewEncoder(w).Encode(map[string]string{
			"result": base64.StdEncoding.EncodeToString(imgBytes),
		})
	}))
	defer srv.Close()

	gw, store := newTestGateway(t, srv.URL, srv.URL)
	ctx := runCtx(t)

	ref, err := gw.ToImage(ctx, "a steampunk robot")
	if err != nil {
		t.Fatalf("ToImage() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("backend called %d times, want 1", calls.Load())
	}

	keyPattern := regexp.MustCompile(`^generated/\d{4}-\d{2}-\d{2}/image_\d{8}_\d{6}_01234567\.png$`)
	if !keyPattern.MatchString(ref.Key) {
		t.Errorf("key %q does not match artifact layout", ref.Key)
	}
	if ref.URL == "" {
		t.Error("ref.URL is empty")
	}

	reader, err := store.Download(ctx, ref.Key)
	if err != nil {
		t.Fatalf("stored image missing: %v", err)
	}
	stored, _ := io.ReadAll(reader)
	reader.Close()
	if !bytes.Equal(stored, imgBytes) {
		t.Error("stored image differs from backend payload")
	}

	thumbExists, err := store.Exists(ctx, thumbnailKey(ref.Key))
	if err != nil || !thumbExists {
		t.Errorf("thumbnail missing at %s (err=%v)", thumbnailKey(ref.Key), err)
	}
}

func TestGenerationGateway_ToImage_AlternatePayloadFields(t *testing.T) {
	imgBytes := testPNG(t)

	for _, field := range []string{"image", "output"} {
		t.Run(field, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{
					field: base64.StdEncoding.EncodeToString(imgBytes),
				})
			}))
			defer srv.Close()

			gw, _ := newTestGateway(t, srv.URL, srv.URL)
			if _, err := gw.ToImage(runCtx(t), "a robot"); err != nil {
				t.Errorf("ToImage() error = %v", err)
			}
		})
	}
}

func TestGenerationGateway_ToImage_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "backend error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "queue full", http.StatusServiceUnavailable)
			},
		},
		{
			name: "no payload field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"ok"}`))
			},
		},
		{
			name: "payload is not an image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				encoded := base64.StdEncoding.EncodeToString([]byte("not an image"))
				w.Write([]byte(`{"result":"` + encoded + `"}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			gw, _ := newTestGateway(t, srv.URL, srv.URL)
			_, err := gw.ToImage(runCtx(t), "a robot")
			if err == nil {
				t.Fatal("ToImage() error = nil, want failure")
			}

			var genErr *domain.GenerationError
			if !errors.As(err, &genErr) {
				t.Fatalf("error %v is not a GenerationError", err)
			}
			if genErr.Stage != domain.StageImageGenerating {
				t.Errorf("stage = %s, want %s", genErr.Stage, domain.StageImageGenerating)
			}
			if calls.Load() != 1 {
				t.Errorf("backend called %d times, want 1 (gateway must not retry)", calls.Load())
			}
		})
	}
}

func TestGenerationGateway_ToModel(t *testing.T) {
	imgBytes := testPNG(t)
	glb := []byte("glTF fake binary payload")

	modelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		sent, err := base64.StdEncoding.DecodeString(req["input_image"])
		if err != nil || !bytes.Equal(sent, imgBytes) {
			t.Error("input_image does not round-trip the stored image")
		}
		json.NewEncoder(w).Encode(map[string]string{
			"model": base64.StdEncoding.EncodeToString(glb),
		})
	}))
	defer modelSrv.Close()

	gw, store := newTestGateway(t, modelSrv.URL, modelSrv.URL)
	ctx := runCtx(t)

	imageKey := "generated/2025-03-14/image_20250314_091500_01234567.png"
	if err := store.Upload(ctx, imageKey, bytes.NewReader(imgBytes), int64(len(imgBytes)), "image/png"); err != nil {
		t.Fatalf("failed to seed source image: %v", err)
	}

	ref, err := gw.ToModel(ctx, domain.ArtifactRef{Key: imageKey, URL: store.GetURL(imageKey)})
	if err != nil {
		t.Fatalf("ToModel() error = %v", err)
	}

	keyPattern := regexp.MustCompile(`^generated/\d{4}-\d{2}-\d{2}/model_\d{8}_\d{6}_01234567\.glb$`)
	if !keyPattern.MatchString(ref.Key) {
		t.Errorf("key %q does not match artifact layout", ref.Key)
	}

	reader, err := store.Download(ctx, ref.Key)
	if err != nil {
		t.Fatalf("stored model missing: %v", err)
	}
	stored, _ := io.ReadAll(reader)
	reader.Close()
	if !bytes.Equal(stored, glb) {
		t.Error("stored model differs from backend payload")
	}
}

func TestGenerationGateway_ToModel_MissingSourceImage(t *testing.T) {
	gw, _ := newTestGateway(t, "http://127.0.0.1:0", "http://127.0.0.1:0")

	_, err := gw.ToModel(runCtx(t), domain.ArtifactRef{Key: "generated/2025-03-14/image_x.png"})
	if err == nil {
		t.Fatal("ToModel() error = nil, want failure")
	}
	var genErr *domain.GenerationError
	if !errors.As(err, &genErr) || genErr.Stage != domain.StageModelGenerating {
		t.Errorf("error %v does not carry the model generation stage", err)
	}
}

func TestDecodePayload(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("hello"))

	tests := []struct {
		name    string
		body    string
		keys    []string
		want    string
		wantErr bool
	}{
		{
			name: "first key wins",
			body: `{"result":"` + encoded + `","image":"ignored"}`,
			keys: imagePayloadKeys,
			want: "hello",
		},
		{
			name: "later key used when earlier absent",
			body: `{"output":"` + encoded + `"}`,
			keys: imagePayloadKeys,
			want: "hello",
		},
		{
			name: "data url prefix tolerated",
			body: `{"result":"data:image/png;base64,` + encoded + `"}`,
			keys: imagePayloadKeys,
			want: "hello",
		},
		{
			name: "non-string field skipped",
			body: `{"result":42,"image":"` + encoded + `"}`,
			keys: imagePayloadKeys,
			want: "hello",
		},
		{
			name:    "no recognized field",
			body:    `{"status":"ok"}`,
			keys:    imagePayloadKeys,
			wantErr: true,
		},
		{
			name:    "invalid base64",
			body:    `{"result":"%%%%"}`,
			keys:    imagePayloadKeys,
			wantErr: true,
		},
		{
			name:    "not json",
			body:    `plain text`,
			keys:    imagePayloadKeys,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePayload([]byte(tt.body), tt.keys)
			if tt.wantErr {
				if err == nil {
					t.Fatal("decodePayload() error = nil, want failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodePayload() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("decodePayload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArtifactKey(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 15, 0, 0, time.UTC)

	got := artifactKey("image", "png", at, "abcd1234")
	want := "generated/2025-03-14/image_20250314_091500_abcd1234.png"
	if got != want {
		t.Errorf("artifactKey() = %q, want %q", got, want)
	}

	got = artifactKey("model", "glb", at, "abcd1234")
	want = "generated/2025-03-14/model_20250314_091500_abcd1234.glb"
	if got != want {
		t.Errorf("artifactKey() = %q, want %q", got, want)
	}
}

func TestThumbnailKey(t *testing.T) {
	got := thumbnailKey("generated/2025-03-14/image_20250314_091500_abcd1234.png")
	want := "generated/2025-03-14/thumb_image_20250314_091500_abcd1234.png"
	if got != want {
		t.Errorf("thumbnailKey() = %q, want %q", got, want)
	}

	// Non-PNG originals still get PNG thumbnails.
	got = thumbnailKey("generated/2025-03-14/image_20250314_091500_abcd1234.jpg")
	if got != want {
		t.Errorf("thumbnailKey() = %q, want %q", got, want)
	}
}

func TestRunSuffix(t *testing.T) {
	ctx := logger.SetRunID(context.Background(), "fedcba9876543210")
	if got := runSuffix(ctx); got != "fedcba98" {
		t.Errorf("runSuffix() = %q, want %q", got, "fedcba98")
	}

	// Without a run ID a fresh suffix is minted.
	if got := runSuffix(context.Background()); len(got) != 8 {
		t.Errorf("runSuffix() = %q, want 8 characters", got)
	}
}
