package classifier

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	BlockCaptcha  = "captcha"
	BlockBotCheck = "bot-check"
	Block403      = "403"
)

// Block describes why a page was judged to be a bot wall.
type Block struct {
	Kind   string
	Signal string
}

func (b Block) Reason() string {
	return "blocked: " + b.Kind + " (" + b.Signal + ")"
}

var captchaSelectors = []string{
	"#captchacharacters",
	"form[action*='Captcha']",
	"form[action*='validateCaptcha']",
	".a-box-inner h4:contains('Robot')",
}

var captchaPrompts = []string{
	"enter the characters you see below",
	"type the characters you see in this image",
	"verify you are a human",
	"klicke auf die schaltfläche unten",
}

var titleSignals = []struct {
	kind string
	re   *regexp.Regexp
}{
	{BlockCaptcha, regexp.MustCompile(`captcha`)},
	{BlockBotCheck, regexp.MustCompile(`robot|sorry|tut uns leid|just a moment|are you a human`)},
	{Block403, regexp.MustCompile(`^\s*403\b|forbidden|access denied`)},
}

// DetectBlock runs before any store rule.
func DetectBlock(doc *goquery.Document, title string) (Block, bool) {
	for _, sel := range captchaSelectors {
		if doc.Find(sel).Length() > 0 {
			return Block{Kind: BlockCaptcha, Signal: sel}, true
		}
	}

	lowerTitle := strings.ToLower(strings.TrimSpace(title))
	if lowerTitle == "" {
		lowerTitle = strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	}
	for _, sig := range titleSignals {
		if m := sig.re.FindString(lowerTitle); m != "" {
			return Block{Kind: sig.kind, Signal: "title: " + strings.TrimSpace(m)}, true
		}
	}

	body := normalize(doc.Find("body").Text())
	for _, prompt := range captchaPrompts {
		if strings.Contains(body, prompt) {
			return Block{Kind: BlockCaptcha, Signal: prompt}, true
		}
	}

	return Block{}, false
}
