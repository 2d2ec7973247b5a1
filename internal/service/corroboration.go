package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// Corroborator checks a claimed fracture code against bones detected on an X-ray.
//
// The detector handle is treated as unsafe for concurrent use: at most one inference runs at
// a time, and a call that times out keeps the handle reserved until the detector returns.
type Corroborator struct {
	detector  domain.Detector
	logger    *logrus.Logger
	threshold float64
	size      int
	bones     []string
	boneCodes map[string]string
	families  map[string][]string
	timeout   time.Duration
	session   chan struct{}
}

// NewCorroborator creates a corroborator that owns the given detector handle.
// Zero config fields take the defaults, including a zero confidence threshold, which would
// otherwise accept every detection. A zero timeout disables the per-inference deadline.
func NewCorroborator(detector domain.Detector, cfg domain.CorroborationConfig, timeout time.Duration, logger *logrus.Logger) *Corroborator {
	defaults := domain.DefaultCorroborationConfig()
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = defaults.ConfidenceThreshold
	}
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = defaults.ImageSize
	}
	if len(cfg.BoneClasses) == 0 {
		cfg.BoneClasses = defaults.BoneClasses
	}
	if len(cfg.BoneCodes) == 0 {
		cfg.BoneCodes = defaults.BoneCodes
	}
	if cfg.FractureFamilies == nil {
		cfg.FractureFamilies = defaults.FractureFamilies
	}

	return &Corroborator{
		detector:  detector,
		logger:    logger,
		threshold: cfg.ConfidenceThreshold,
		size:      cfg.ImageSize,
		bones:     cfg.BoneClasses,
		boneCodes: cfg.BoneCodeMap(),
		families:  cfg.FamilyMap(),
		timeout:   timeout,
		session:   make(chan struct{}, 1),
	}
}

// Corroborate runs the full pipeline for one image. It never returns nil and never panics on
// detector output: failures are reported through the result's Status and Err.
//
// Without an image or a claimed code the result stays PENDING. An inference timeout is also
// PENDING (with Err set); any other failure is DENIED with Err set.
func (c *Corroborator) Corroborate(ctx context.Context, claimedCode string, img image.Image) *domain.CorroborationResult {
	result := &domain.CorroborationResult{
		Status:        domain.ProofPending,
		ClaimedCode:   claimedCode,
		DetectedBones: []string{},
		DetectedCodes: []string{},
	}
	if img == nil || claimedCode == "" {
		c.logger.WithField("claimed_code", claimedCode).Debug("Corroboration pending: missing image or claimed code")
		return result
	}
	result.AllowedCodes = c.AllowList(claimedCode)

	input := Preprocess(img, c.size)

	rows, err := c.infer(ctx, input)
	if err != nil {
		result.Err = err
		var ie *domain.InferenceError
		if errors.As(err, &ie) && ie.Timeout {
			c.logger.WithError(err).Warn("Fracture detection timed out")
			return result
		}
		c.logger.WithError(err).Error("Fracture detection failed")
		result.Status = domain.ProofDenied
		return result
	}

	detections, err := Postprocess(rows, c.threshold)
	if err != nil {
		c.logger.WithError(err).Error("Malformed detection output")
		result.Status = domain.ProofDenied
		result.Err = err
		return result
	}
	result.Detections = detections

	bones, codes, err := c.MapDetections(detections)
	if err != nil {
		c.logger.WithError(err).Error("Detection does not match the configured class table")
		result.Status = domain.ProofDenied
		result.Err = err
		return result
	}
	result.DetectedBones = bones
	result.DetectedCodes = codes

	allowed := make(map[string]struct{}, len(result.AllowedCodes))
	for _, code := range result.AllowedCodes {
		allowed[code] = struct{}{}
	}

	result.Status = domain.ProofDenied
	for i, code := range codes {
		if _, ok := allowed[code]; ok {
			result.Status = domain.ProofApproved
			result.MatchedBone = bones[i]
			result.MatchedCode = code
			break
		}
	}

	c.logger.WithFields(logrus.Fields{
		"claimed_code":   claimedCode,
		"detections":     len(detections),
		"detected_codes": codes,
		"status":         result.Status,
	}).Info("Completed fracture corroboration")

	return result
}

// AllowList returns the codes that corroborate claimedCode. A code without a registered
// family is only corroborated by itself.
func (c *Corroborator) AllowList(claimedCode string) []string {
	if family, ok := c.families[claimedCode]; ok && len(family) > 0 {
		out := make([]string, len(family))
		copy(out, family)
		return out
	}
	return []string{claimedCode}
}

// MapDetections maps each detection to its bone name and ICD-10 code, keeping order and
// duplicates. A class id outside the class table is a *domain.RangeError.
func (c *Corroborator) MapDetections(detections []domain.DetectionResult) ([]string, []string, error) {
	bones := make([]string, 0, len(detections))
	codes := make([]string, 0, len(detections))
	for _, d := range detections {
		if d.ClassID < 0 || d.ClassID >= len(c.bones) {
			return nil, nil, &domain.RangeError{ClassID: d.ClassID, NumClasses: len(c.bones)}
		}
		bone := c.bones[d.ClassID]
		code, ok := c.boneCodes[bone]
		if !ok {
			return nil, nil, fmt.Errorf("no ICD-10 code configured for bone %q", bone)
		}
		bones = append(bones, bone)
		codes = append(codes, code)
	}
	return bones, codes, nil
}

// infer runs the detector once under the configured deadline.
func (c *Corroborator) infer(ctx context.Context, input domain.Tensor) ([][]float32, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	select {
	case c.session <- struct{}{}:
	case <-ctx.Done():
		return nil, classifyInferenceError(ctx.Err())
	}

	type outcome struct {
		rows [][]float32
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() { <-c.session }()
		rows, err := c.detector.Detect(ctx, input)
		done <- outcome{rows: rows, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, classifyInferenceError(out.err)
		}
		return out.rows, nil
	case <-ctx.Done():
		return nil, classifyInferenceError(ctx.Err())
	}
}

func classifyInferenceError(err error) error {
	var ie *domain.InferenceError
	if errors.As(err, &ie) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.InferenceError{Op: "detect", Err: err, Timeout: true}
	}
	return &domain.InferenceError{Op: "detect", Err: err}
}

// Preprocess converts an image into the detector's input tensor: RGB resized to size×size
// with bicubic resampling, channels scaled to [0,1], laid out as (1, 3, size, size).
func Preprocess(img image.Image, size int) domain.Tensor {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := dst.PixOffset(x, y)
			p := y*size + x
			data[p] = float32(dst.Pix[i]) / 255
			data[plane+p] = float32(dst.Pix[i+1]) / 255
			data[2*plane+p] = float32(dst.Pix[i+2]) / 255
		}
	}

	return domain.Tensor{Shape: []int{1, 3, size, size}, Data: data}
}

// Postprocess keeps the argmax class of every prediction row whose objectness times class
// score exceeds threshold. Rows are [x, y, w, h, objectness, class scores...]. Ties pick the
// lowest class id; overlapping boxes are not suppressed.
func Postprocess(rows [][]float32, threshold float64) ([]domain.DetectionResult, error) {
	detections := make([]domain.DetectionResult, 0)
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("prediction row %d has %d values, want at least 6", i, len(row))
		}
		scores := row[5:]
		best := 0
		for j := 1; j < len(scores); j++ {
			if scores[j] > scores[best] {
				best = j
			}
		}
		confidence := float64(row[4] * scores[best])
		if confidence > threshold {
			detections = append(detections, domain.DetectionResult{ClassID: best, Confidence: confidence})
		}
	}
	return detections, nil
}
