package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rin/mnemo/internal/config"
	"github.com/rin/mnemo/internal/domain"
	"github.com/rin/mnemo/internal/logger"
	"github.com/rin/mnemo/internal/storage"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	artifactKeyPrefix = "generated"
	thumbnailMaxEdge  = 256

	defaultImageGenTimeout = 120 * time.Second
	defaultModelGenTimeout = 300 * time.Second
)

// Generation backends name the payload field inconsistently. These list the
// known field names in lookup order.
var (
	imagePayloadKeys = []string{"result", "image", "output"}
	modelPayloadKeys = []string{"result", "model", "output", "mesh", "generated_object", "video_object"}
)

// GenerationGateway drives the two external generation backends: text to
// image, then image to 3D model. Produced artifacts are uploaded to object
// storage and handed back as opaque refs. The gateway never retries; retry
// policy belongs to the pipeline.
type GenerationGateway struct {
	imageClient *resty.Client
	modelClient *resty.Client
	imageModel  string
	storage     storage.ObjectStorage
	logger      *logger.Logger
}

// NewGenerationGateway creates a gateway for the configured backends.
// Parameters:
//   - cfg: generation backend endpoints, credentials, and timeouts.
//   - objectStorage: destination for produced artifacts.
//   - log: base logger used when the context carries none.
// Returns:
//   - *GenerationGateway: ready-to-use gateway.
func NewGenerationGateway(cfg *config.GenerationConfig, objectStorage storage.ObjectStorage, log *logger.Logger) *GenerationGateway {
	imageTimeout := defaultImageGenTimeout
	if cfg.Image.TimeoutSeconds > 0 {
		imageTimeout = time.Duration(cfg.Image.TimeoutSeconds) * time.Second
	}
	modelTimeout := defaultModelGenTimeout
	if cfg.Model3D.TimeoutSeconds > 0 {
		modelTimeout = time.Duration(cfg.Model3D.TimeoutSeconds) * time.Second
	}

	imageClient := resty.New().
		SetBaseURL(cfg.Image.BaseURL).
		SetTimeout(imageTimeout)
	if cfg.Image.APIKey != "" {
		imageClient.SetHeader("Authorization", "Bearer "+cfg.Image.APIKey)
	}

	modelClient := resty.New().
		SetBaseURL(cfg.Model3D.BaseURL).
		SetTimeout(modelTimeout)
	if cfg.Model3D.APIKey != "" {
		modelClient.SetHeader("Authorization", "Bearer "+cfg.Model3D.APIKey)
	}

	return &GenerationGateway{
		imageClient: imageClient,
		modelClient: modelClient,
		imageModel:  cfg.Image.Model,
		storage:     objectStorage,
		logger:      log,
	}
}

func (g *GenerationGateway) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return g.logger
}

type imageGenRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

type modelGenRequest struct {
	InputImage string `json:"input_image"`
}

// ToImage renders a prompt through the image backend and stores the result.
//
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - prompt: final enriched prompt to render.
//
// Returns:
//   - domain.ArtifactRef: storage key and URL of the stored image.
//   - error: *domain.GenerationError when the call, decode, or upload fails.
func (g *GenerationGateway) ToImage(ctx context.Context, prompt string) (domain.ArtifactRef, error) {
	resp, err := g.imageClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(imageGenRequest{Prompt: prompt, Model: g.imageModel}).
		Post("")
	if err != nil {
		return domain.ArtifactRef{}, generationErr(domain.StageImageGenerating, "image backend request failed", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return domain.ArtifactRef{}, generationErr(domain.StageImageGenerating,
			fmt.Sprintf("image backend returned status %d: %s", resp.StatusCode(), snippet(resp.Body())), nil)
	}

	data, err := decodePayload(resp.Body(), imagePayloadKeys)
	if err != nil {
		return domain.ArtifactRef{}, generationErr(domain.StageImageGenerating, "unusable image response", err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return domain.ArtifactRef{}, generationErr(domain.StageImageGenerating, "image payload does not decode", err)
	}

	key := artifactKey("image", imageExt(format), time.Now(), runSuffix(ctx))
	if err := g.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), imageContentType(format)); err != nil {
		return domain.ArtifactRef{}, generationErr(domain.StageImageGenerating, "failed to upload image", err)
	}

	g.storeThumbnail(ctx, key, img)

	g.log(ctx).WithFields(logger.Fields{
		"storage_key":    key,
		"format":         format,
		logger.FieldSize: len(data),
	}).Info("Image generated")

	return domain.ArtifactRef{Key: key, URL: g.storage.GetURL(key)}, nil
}

// ToModel converts a stored image into a 3D model through the image-to-3D
// backend and stores the resulting GLB.
//
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imageRef: ref of the source image produced by ToImage.
//
// Returns:
//   - domain.ArtifactRef: storage key and URL of the stored model.
//   - error: *domain.GenerationError when the call, decode, or upload fails.
func (g *GenerationGateway) ToModel(ctx context.Context, imageRef domain.ArtifactRef) (domain.ArtifactRef, error) {
	reader, err := g.storage.Download(ctx, imageRef.Key)
	if err != nil {
		return domain.ArtifactRef{}, generationErr(domain.StageModelGenerating, "failed to read source image", err)
	}
	imageData, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		return domain.ArtifactRef{}, generationErr(domain.StageModelGenerating, "failed to read source image", err)
	}

	resp, err := g.modelClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(modelGenRequest{InputImage: base64.StdEncoding.EncodeToString(imageData)}).
		Post("")
	if err != nil {
		return domain.ArtifactRef{}, generationErr(domain.StageModelGenerating, "model backend request failed", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return domain.ArtifactRef{}, generationErr(domain.StageModelGenerating,
			fmt.Sprintf("model backend returned status %d: %s", resp.StatusCode(), snippet(resp.Body())), nil)
	}

	data, err := decodePayload(resp.Body(), modelPayloadKeys)
	if err != nil {
		return domain.ArtifactRef{}, generationErr(domain.StageModelGenerating, "unusable model response", err)
	}
	if len(data) == 0 {
		return domain.ArtifactRef{}, generationErr(domain.StageModelGenerating, "model payload is empty", nil)
	}

	key := artifactKey("model", "glb", time.Now(), runSuffix(ctx))
	if err := g.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "model/gltf-binary"); err != nil {
		return domain.ArtifactRef{}, generationErr(domain.StageModelGenerating, "failed to upload model", err)
	}

	g.log(ctx).WithFields(logger.Fields{
		"storage_key":    key,
		logger.FieldSize: len(data),
	}).Info("3D model generated")

	return domain.ArtifactRef{Key: key, URL: g.storage.GetURL(key)}, nil
}

// storeThumbnail scales the decoded image to fit thumbnailMaxEdge and stores
// it next to the original. Thumbnails are best-effort: a failure is logged
// and the run continues.
func (g *GenerationGateway) storeThumbnail(ctx context.Context, imageKey string, img image.Image) {
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return
	}

	scale := float64(thumbnailMaxEdge) / float64(max(bounds.Dx(), bounds.Dy()))
	if scale > 1 {
		scale = 1
	}
	w := max(1, int(float64(bounds.Dx())*scale))
	h := max(1, int(float64(bounds.Dy())*scale))

	thumb := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		g.log(ctx).WithError(err).Warn("Failed to encode thumbnail")
		return
	}

	key := thumbnailKey(imageKey)
	if err := g.storage.Upload(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "image/png"); err != nil {
		g.log(ctx).WithError(err).WithField("storage_key", key).Warn("Failed to upload thumbnail")
	}
}

func generationErr(stage domain.Stage, message string, err error) error {
	return &domain.GenerationError{Stage: stage, Message: message, Err: err}
}

// decodePayload pulls the first recognized field out of a generation
// response and base64-decodes it. Data URL prefixes are tolerated.
func decodePayload(body []byte, keys []string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}

	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil || encoded == "" {
			continue
		}
		if idx := strings.Index(encoded, ";base64,"); idx != -1 {
			encoded = encoded[idx+len(";base64,"):]
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", key, err)
		}
		return data, nil
	}

	return nil, fmt.Errorf("generation response carries no payload field (tried %s)", strings.Join(keys, ", "))
}

// artifactKey builds the dated storage key for one artifact, for example
// generated/2025-03-14/image_20250314_091500_1a2b3c4d.png.
func artifactKey(kind, ext string, at time.Time, suffix string) string {
	return fmt.Sprintf("%s/%s/%s_%s_%s.%s",
		artifactKeyPrefix,
		at.Format("2006-01-02"),
		kind,
		at.Format("20060102_150405"),
		suffix,
		ext,
	)
}

// thumbnailKey derives the thumbnail key from an image key by prefixing the
// base name. Thumbnails are always PNG.
func thumbnailKey(imageKey string) string {
	dir, base := path.Split(imageKey)
	return dir + "thumb_" + strings.TrimSuffix(base, path.Ext(base)) + ".png"
}

// runSuffix shortens the run ID carried by the context into an artifact name
// suffix, falling back to a fresh ID for out-of-pipeline calls.
func runSuffix(ctx context.Context) string {
	id := logger.GetRunID(ctx)
	if id == "" {
		id = uuid.New().String()
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

func imageExt(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

func imageContentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

func snippet(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
