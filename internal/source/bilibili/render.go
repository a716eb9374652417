package bilibili

import (
	"fmt"
	"strings"

	"kibot/internal/transport"
)

// renderDynamic turns one dynamic into deliverable content. Pure: no I/O.
// Every known kind has a branch; anything else goes through the generic
// fallback rather than being dropped.
func renderDynamic(d DynamicItem) transport.Content {
	switch d.Kind() {
	case DynamicVideo:
		return renderVideo(d)
	case DynamicDraw:
		return renderDraw(d)
	case DynamicWord:
		return renderWord(d)
	case DynamicForward:
		return renderForward(d)
	case DynamicArticle:
		return renderArticle(d)
	case DynamicLive:
		// Live-recommend cards carry no useful module payload; point at the post.
		return renderUnknown(d)
	default:
		return renderUnknown(d)
	}
}

func renderHeader(d DynamicItem) string {
	author := d.Modules.Author
	action := author.PubAction
	if action == "" {
		action = "posted an update"
	}
	h := fmt.Sprintf("🔔 %s %s", author.Name, action)
	if author.PubTime != "" {
		h += "\n⏰ " + author.PubTime
	}
	return h + "\n"
}

func renderVideo(d DynamicItem) transport.Content {
	major := d.Modules.Dynamic.Major
	if major == nil || major.Archive == nil {
		return renderUnknown(d)
	}
	a := major.Archive

	var b strings.Builder
	b.WriteString(renderHeader(d))
	b.WriteString("\n📺 " + a.Title)
	if a.DurationText != "" {
		b.WriteString("\n⏱️ " + a.DurationText)
	}
	if a.Stat.Play != "" || a.Stat.Danmaku != "" {
		b.WriteString(fmt.Sprintf("\n▶️ %s plays | 💬 %s danmaku", orDash(a.Stat.Play), orDash(a.Stat.Danmaku)))
	}
	if a.Desc != "" {
		b.WriteString("\n\n📝 " + truncate(a.Desc, 100))
	}
	b.WriteString("\n\n🔗 " + a.URL())

	var images []string
	if a.Cover != "" {
		images = []string{a.Cover}
	}
	return transport.Content{Text: b.String(), Images: images}
}

// renderDraw handles both the opus-style and the legacy draw-style photo
// posts, degrading to plain text when neither payload is present.
func renderDraw(d DynamicItem) transport.Content {
	major := d.Modules.Dynamic.Major
	desc := descText(d)

	if major != nil && major.Opus != nil {
		opus := major.Opus
		text := opus.Summary.Text
		if text == "" {
			text = desc
		}
		var b strings.Builder
		b.WriteString(renderHeader(d))
		if opus.Title != "" {
			b.WriteString("\n📰 " + opus.Title + "\n")
		}
		b.WriteString("\n📝 " + text)
		if n := len(opus.Pics); n > 0 {
			b.WriteString(fmt.Sprintf("\n\n🖼️ %d image(s)", n))
		}
		b.WriteString("\n\n🔗 " + d.URL())

		images := make([]string, 0, len(opus.Pics))
		for _, p := range opus.Pics {
			if p.URL != "" {
				images = append(images, p.URL)
			}
		}
		return transport.Content{Text: b.String(), Images: images}
	}

	if major != nil && major.Draw != nil {
		draw := major.Draw
		var b strings.Builder
		b.WriteString(renderHeader(d))
		b.WriteString("\n📝 " + desc)
		b.WriteString(fmt.Sprintf("\n\n🖼️ %d image(s)", len(draw.Items)))
		b.WriteString("\n\n🔗 " + d.URL())

		images := make([]string, 0, len(draw.Items))
		for _, it := range draw.Items {
			if it.Src != "" {
				images = append(images, it.Src)
			}
		}
		return transport.Content{Text: b.String(), Images: images}
	}

	return renderWord(d)
}

func renderWord(d DynamicItem) transport.Content {
	var b strings.Builder
	b.WriteString(renderHeader(d))
	b.WriteString("\n📝 " + descText(d))
	b.WriteString("\n\n🔗 " + d.URL())
	return transport.Content{Text: b.String()}
}

func renderForward(d DynamicItem) transport.Content {
	var b strings.Builder
	b.WriteString(renderHeader(d))
	if t := descText(d); t != "" {
		b.WriteString("\n💬 " + t)
	}
	b.WriteString("\n\n↪️ forwarded a post")
	b.WriteString("\n🔗 " + d.URL())
	return transport.Content{Text: b.String()}
}

func renderArticle(d DynamicItem) transport.Content {
	major := d.Modules.Dynamic.Major
	if major == nil || major.Article == nil {
		return renderUnknown(d)
	}
	a := major.Article

	var b strings.Builder
	b.WriteString(renderHeader(d))
	b.WriteString("\n📰 " + a.Title)
	if a.Desc != "" {
		b.WriteString("\n\n📝 " + truncate(a.Desc, 150))
	}
	b.WriteString("\n\n🔗 " + a.JumpURL)

	var images []string
	if len(a.Covers) > 0 && a.Covers[0] != "" {
		images = a.Covers[:1]
	}
	return transport.Content{Text: b.String(), Images: images}
}

func renderUnknown(d DynamicItem) transport.Content {
	var b strings.Builder
	b.WriteString(renderHeader(d))
	if t := descText(d); t != "" {
		b.WriteString("\n📝 " + t)
	}
	b.WriteString("\n\n🔗 " + d.URL())
	return transport.Content{Text: b.String()}
}

// renderLiveRoom builds the "went live" notification.
func renderLiveRoom(r LiveRoom) transport.Content {
	var b strings.Builder
	b.WriteString("🔴 Live broadcast started\n")
	b.WriteString(fmt.Sprintf("\n👤 %s is live!", r.UName))
	b.WriteString("\n📺 " + r.Title)
	if r.AreaParentName != "" || r.AreaName != "" {
		b.WriteString(fmt.Sprintf("\n🎮 %s · %s", r.AreaParentName, r.AreaName))
	}
	if r.Online > 0 {
		b.WriteString(fmt.Sprintf("\n👥 %d watching", r.Online))
	}
	b.WriteString("\n\n🔗 " + r.URL())

	var images []string
	if c := r.Cover(); c != "" {
		images = []string{c}
	}
	return transport.Content{Text: b.String(), Images: images}
}

func descText(d DynamicItem) string {
	if d.Modules.Dynamic.Desc != nil {
		return d.Modules.Dynamic.Desc.Text
	}
	return ""
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
