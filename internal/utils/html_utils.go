package utils

import (
	"html"
	"html/template"
	"regexp"
	"strings"
	"yomu/internal/models"

	"github.com/PuerkitoBio/goquery"
)

// MentionPattern matches an @username token. Callers check the surrounding
// characters themselves.
var MentionPattern = regexp.MustCompile(`(?i)@([a-z0-9_]{1,24})`)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{3,8}$`)

// IsWordByte reports whether b can be part of a username.
func IsWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// EnhanceHTMLContent 为 HTML 中的图片增加安全和优化属性,并把已解析的 @提及 转为链接
func EnhanceHTMLContent(htmlStr string, mentions []models.MentionMetadata) template.HTML {
	if htmlStr == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return template.HTML(htmlStr)
	}

	// 增强图片属性
	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		s.SetAttr("referrerpolicy", "no-referrer")
		s.SetAttr("rel", "noopener")
		s.SetAttr("loading", "lazy")
	})

	if len(mentions) > 0 {
		links := make(map[string]models.MentionMetadata, len(mentions))
		for _, m := range mentions {
			links[strings.ToLower(m.Username)] = m
		}
		decorateMentions(doc.Find("body"), links)
	}

	// goquery renders full document tags if missing, we just want the body content
	out, _ := doc.Find("body").Html()
	if out == "" {
		out, _ = doc.Html()
	}

	return template.HTML(out)
}

// decorateMentions rewrites text nodes outside links and code.
func decorateMentions(s *goquery.Selection, links map[string]models.MentionMetadata) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			if replaced, ok := linkMentions(c.Text(), links); ok {
				c.ReplaceWithHtml(replaced)
			}
		case "a", "code", "pre", "script", "style":
		default:
			decorateMentions(c, links)
		}
	})
}

// linkMentions returns the escaped text with resolved mentions wrapped in
// anchors, and whether anything was replaced.
func linkMentions(text string, links map[string]models.MentionMetadata) (string, bool) {
	var b strings.Builder
	last := 0
	replaced := false
	for _, m := range MentionPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if start > 0 && IsWordByte(text[start-1]) {
			continue
		}
		if end < len(text) && IsWordByte(text[end]) {
			continue
		}
		meta, ok := links[strings.ToLower(text[m[2]:m[3]])]
		if !ok {
			continue
		}
		b.WriteString(html.EscapeString(text[last:start]))
		b.WriteString(mentionAnchor(meta))
		last = end
		replaced = true
	}
	if !replaced {
		return text, false
	}
	b.WriteString(html.EscapeString(text[last:]))
	return b.String(), true
}

func mentionAnchor(m models.MentionMetadata) string {
	name := html.EscapeString(m.Username)
	attrs := `class="mention" href="/u/` + name + `" data-user-id="` + uintString(m.UserID) + `"`
	if m.DisplayName != "" {
		attrs += ` title="` + html.EscapeString(m.DisplayName) + `"`
	}
	if colorPattern.MatchString(m.Color) {
		attrs += ` style="color:` + m.Color + `"`
	}
	return "<a " + attrs + ">@" + name + "</a>"
}
