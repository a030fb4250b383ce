package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"regexp"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"

	"github.com/scrypster/buddy/pkg/types"
)

// QRData is the skill payload for a synthesized QR code. PNG rendering is
// best-effort; the URL alone is enough for a client-side renderer.
type QRData struct {
	URL string `json:"url"`
	PNG string `json:"png,omitempty"` // base64-encoded PNG
}

// PlanStep is one step of a structured roadmap.
type PlanStep struct {
	Task       string `json:"task"`
	Detail     string `json:"detail"`
	Importance string `json:"importance"` // high | med | low
}

// PlanData is the skill payload for a structured roadmap.
type PlanData struct {
	Title string     `json:"title"`
	Steps []PlanStep `json:"steps"`
}

// ImageData is the skill payload for a generated image.
type ImageData struct {
	Base64 string `json:"base64"`
	MIME   string `json:"mime"`
}

// intentRule is one entry of the ordered intent table. Rules are checked
// top to bottom; the first rule whose matches predicate fires gets to
// handle the prompt. A handler returning handled=false falls through to
// the next stage, which is how plan and image failures silently downgrade
// to the conversational path.
type intentRule struct {
	name    string
	matches func(lowPrompt string) bool
	handle  func(ctx context.Context, g *Gateway, prompt string) (*Result, bool)
}

var (
	urlPattern       = regexp.MustCompile(`https?://\S+`)
	qrTargetSplit    = regexp.MustCompile(`(?i)for |generate `)
	imageIntent      = regexp.MustCompile(`(generate|create|make|draw|paint) (an image|a picture|art)`)
	planKeywords     = []string{"plan", "roadmap", "how to", "steps for"}
	qrGenerateVerbs  = []string{"for", "generate"}
	qrCodePhrase     = "qr code"
	qrImageSizePixel = 256
)

// intentRules is the skill-routing table, evaluated before the default
// conversational path. Order matters: qr wins over plan wins over image.
var intentRules = []intentRule{
	{name: "qr", matches: matchQR, handle: handleQR},
	{name: "plan", matches: matchPlan, handle: handlePlan},
	{name: "image", matches: matchImage, handle: handleImage},
}

func matchQR(lowPrompt string) bool {
	if !strings.Contains(lowPrompt, qrCodePhrase) {
		return false
	}
	for _, verb := range qrGenerateVerbs {
		if strings.Contains(lowPrompt, verb) {
			return true
		}
	}
	return false
}

// handleQR resolves the target URL and synthesizes the code locally. The
// backend is never called for this intent.
func handleQR(ctx context.Context, g *Gateway, prompt string) (*Result, bool) {
	target := ""
	if match := urlPattern.FindString(prompt); match != "" {
		target = match
	} else if pieces := qrTargetSplit.Split(prompt, -1); len(pieces) > 1 {
		target = pieces[len(pieces)-1]
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, false
	}

	data := QRData{URL: target, PNG: renderQRPNG(target)}
	return &Result{
		Text:      fmt.Sprintf("I've synthesized a high-density QR code for: %s", target),
		Type:      types.ResultQR,
		SkillData: data,
	}, true
}

// renderQRPNG encodes the target as a base64 PNG, or "" when encoding
// fails (overly long payloads); the result still carries the URL.
func renderQRPNG(target string) string {
	code, err := qr.Encode(target, qr.M, qr.Auto)
	if err != nil {
		return ""
	}
	scaled, err := barcode.Scale(code, qrImageSizePixel, qrImageSizePixel)
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func matchPlan(lowPrompt string) bool {
	for _, kw := range planKeywords {
		if strings.Contains(lowPrompt, kw) {
			return true
		}
	}
	return false
}

// handlePlan asks the flash model for a strict-JSON roadmap. Any failure
// (call, parse, empty steps) falls through to the next stage rather than
// surfacing an error.
func handlePlan(ctx context.Context, g *Gateway, prompt string) (*Result, bool) {
	resp, err := g.client.GenerateContent(ctx, &GenerateRequest{
		Model:            g.cfg.FlashModel,
		Contents:         []Content{{Role: "user", Parts: []Part{{Text: planPrompt(prompt)}}}},
		GenerationConfig: &GenerationConfig{ResponseMIMEType: "application/json"},
	})
	if err != nil {
		g.log.WithError(err).Debug("plan synthesis failed, falling through")
		return nil, false
	}

	var plan PlanData
	if err := json.Unmarshal([]byte(extractJSON(resp.Text())), &plan); err != nil {
		g.log.WithError(err).Debug("plan response unparsable, falling through")
		return nil, false
	}
	if len(plan.Steps) == 0 {
		return nil, false
	}

	return &Result{
		Text:      fmt.Sprintf("I've architected a strategic roadmap for your goal: **%s**.", plan.Title),
		Type:      types.ResultPlan,
		SkillData: plan,
	}, true
}

func matchImage(lowPrompt string) bool {
	return imageIntent.MatchString(lowPrompt)
}

// handleImage asks the image-capable model for inline image data. Failure
// or a text-only answer falls through.
func handleImage(ctx context.Context, g *Gateway, prompt string) (*Result, bool) {
	resp, err := g.client.GenerateContent(ctx, &GenerateRequest{
		Model:    g.cfg.ImageModel,
		Contents: []Content{{Role: "user", Parts: []Part{{Text: prompt}}}},
	})
	if err != nil {
		g.log.WithError(err).Debug("visual synthesis failed, falling through")
		return nil, false
	}

	inline := resp.InlineImage()
	if inline == nil {
		return nil, false
	}

	return &Result{
		Text:      "Neural visualization complete.",
		Type:      types.ResultImage,
		SkillData: ImageData{Base64: inline.Data, MIME: inline.MimeType},
	}, true
}
