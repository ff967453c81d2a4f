package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/youthfin-elt/internal/model"
	"github.com/sells-group/youthfin-elt/internal/resilience"
	"github.com/sells-group/youthfin-elt/pkg/anthropic"
)

const systemPrompt = `You classify the special-condition text (우대조건) of a Korean bank deposit or saving product.
Reply with one JSON object and nothing else. It must contain exactly these boolean keys:

is_non_face_to_face: joining without a branch visit (비대면, 인터넷/스마트폰 가입)
is_bank_app: using or signing up to the bank's mobile app
is_salary_linked: salary transfer into the bank (급여이체)
is_utility_linked: automatic payment of utility or telecom bills (공과금, 관리비, 통신비 자동이체)
is_card_usage: spending with the bank's credit or check card
is_first_transaction: first-time customers of the bank (첫거래, 신규고객)
is_checking_account: holding or opening a checking account (입출금통장)
is_pension_linked: pension receipt through the bank (연금 수령)
is_redeposit: re-depositing a matured product (재예치)
is_subscription_linked: holding a housing subscription account (청약)
is_recommend_coupon: referral codes, coupons or events (추천, 쿠폰, 이벤트)
is_auto_transfer: automatic transfer into this product (자동이체 납입)

Set a key to true only when the text grants a preferential rate for that condition.`

// AnthropicClassifier classifies text with a single Claude message call.
type AnthropicClassifier struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicClassifier creates a classifier over client.
func NewAnthropicClassifier(client anthropic.Client, model string, maxTokens int64) *AnthropicClassifier {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &AnthropicClassifier{client: client, model: model, maxTokens: maxTokens}
}

// Classify implements Classifier. Rate-limit and server faults, and replies
// that fail to parse, come back as transient errors.
func (c *AnthropicClassifier) Classify(ctx context.Context, productID int64, text string) (model.SpecialFlags, bool, error) {
	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      anthropic.CachedSystem(systemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: text}},
		Temperature: &temp,
	})
	if err != nil {
		if status := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(status) {
			return model.SpecialFlags{}, false, resilience.NewTransientError(err, status)
		}
		return model.SpecialFlags{}, false, eris.Wrapf(err, "classify: product %d", productID)
	}
	resp.Usage.LogUsage(c.model, "classify")

	flags, err := ParseFlags(resp.Text())
	if err != nil {
		return model.SpecialFlags{}, false, resilience.NewTransientError(
			eris.Wrapf(err, "classify: product %d", productID), 0)
	}
	return flags, true, nil
}

// ParseFlags decodes a reply that must hold exactly the twelve flag keys,
// each a JSON boolean. Markdown fences around the object are tolerated.
func ParseFlags(reply string) (model.SpecialFlags, error) {
	body := cleanJSON(reply)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return model.SpecialFlags{}, eris.Wrap(err, "parse flags")
	}
	if len(fields) != len(model.SpecialFlagColumns) {
		return model.SpecialFlags{}, eris.Errorf("parse flags: want %d keys, got %d", len(model.SpecialFlagColumns), len(fields))
	}
	for _, col := range model.SpecialFlagColumns {
		v, ok := fields[col]
		if !ok {
			return model.SpecialFlags{}, eris.Errorf("parse flags: missing %s", col)
		}
		if s := string(bytes.TrimSpace(v)); s != "true" && s != "false" {
			return model.SpecialFlags{}, eris.Errorf("parse flags: %s is not a boolean", col)
		}
	}

	var flags model.SpecialFlags
	if err := json.Unmarshal([]byte(body), &flags); err != nil {
		return model.SpecialFlags{}, eris.Wrap(err, "parse flags")
	}
	return flags, nil
}

// cleanJSON strips markdown fences and extracts the outermost object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
