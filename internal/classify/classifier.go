// Package classify tags a product's special-condition text with the fixed
// set of SpecialFlags and persists the result per product.
package classify

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/config"
	"github.com/sells-group/youthfin-elt/internal/model"
	"github.com/sells-group/youthfin-elt/pkg/anthropic"
)

// Classifier maps free text to SpecialFlags. ok is false when the
// implementation produced no signal at all.
type Classifier interface {
	Classify(ctx context.Context, productID int64, text string) (flags model.SpecialFlags, ok bool, err error)
}

// New returns the Anthropic classifier when a key is configured and the
// no-op classifier otherwise.
func New(cfg config.ClassifyConfig) Classifier {
	if cfg.AnthropicKey == "" {
		zap.L().Warn("classify: no anthropic key configured, results will be marked as errors")
		return NoopClassifier{}
	}
	return NewAnthropicClassifier(anthropic.NewClient(cfg.AnthropicKey), cfg.Model, cfg.MaxTokens)
}

// NoopClassifier never produces a signal.
type NoopClassifier struct{}

// Classify implements Classifier.
func (NoopClassifier) Classify(context.Context, int64, string) (model.SpecialFlags, bool, error) {
	return model.SpecialFlags{}, false, nil
}

var placeholders = map[string]bool{
	"":   true,
	"-":  true,
	"없음": true,
}

// IsPlaceholder reports whether text carries no condition worth classifying.
func IsPlaceholder(text string) bool {
	return placeholders[strings.TrimSpace(text)]
}
