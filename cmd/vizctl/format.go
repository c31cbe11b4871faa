package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/tidwall/gjson"
)

var (
	label   = color.New(color.FgCyan).SprintFunc()
	strong  = color.New(color.Bold).SprintFunc()
	good    = color.New(color.FgGreen).SprintFunc()
	bad     = color.New(color.FgRed).SprintFunc()
	muted   = color.New(color.Faint).SprintFunc()
	accents = map[string]*color.Color{
		"Calm":      color.New(color.FgBlue),
		"Deep":      color.New(color.FgMagenta),
		"Bright":    color.New(color.FgYellow),
		"Energetic": color.New(color.FgRed, color.Bold),
		"Warm":      color.New(color.FgHiYellow),
		"Balanced":  color.New(color.FgGreen),
	}
)

// formatMetrics renders a metrics object on one line
func formatMetrics(metrics []byte) string {
	bpm := gjson.GetBytes(metrics, "bpm").Int()
	bpmText := "--"
	if bpm > 0 {
		bpmText = fmt.Sprintf("%d", bpm)
	}

	mood := gjson.GetBytes(metrics, "mood").String()
	moodText := mood
	if c, ok := accents[mood]; ok {
		moodText = c.Sprint(mood)
	}

	return fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s  %s %s",
		label("BPM"), strong(bpmText),
		label("Key"), strong(gjson.GetBytes(metrics, "key").String()),
		label("Mood"), moodText,
		label("Energy"), strong(fmt.Sprintf("%.1f%%", gjson.GetBytes(metrics, "rmsEnergy").Float())),
		label("Bright"), strong(fmt.Sprintf("%.1f%%", gjson.GetBytes(metrics, "brightness").Float())),
		label("Centroid"), strong(fmt.Sprintf("%.0fHz", gjson.GetBytes(metrics, "spectralCentroid").Float())),
	)
}

// formatStatus renders a status response
func formatStatus(status []byte) string {
	var b strings.Builder

	state := bad("stopped")
	if gjson.GetBytes(status, "analyzing").Bool() {
		state = good("analyzing")
	}
	fmt.Fprintf(&b, "%s %s (%s source, %s classifier, tempo %s)\n",
		label("Analysis"), state,
		gjson.GetBytes(status, "source").String(),
		gjson.GetBytes(status, "classifier").String(),
		gjson.GetBytes(status, "trackerState").String(),
	)
	fmt.Fprintf(&b, "%s %d ticks, %d subscribers\n",
		label("Session"), gjson.GetBytes(status, "ticks").Int(), gjson.GetBytes(status, "subscribers").Int())

	if pb := gjson.GetBytes(status, "playback"); pb.Exists() {
		path := pb.Get("path").String()
		if path == "" {
			path = muted("nothing")
		}
		fmt.Fprintf(&b, "%s %s %s\n", label("Playback"), pb.Get("state").String(), path)
	}

	if w := gjson.GetBytes(status, "worker"); w.Exists() {
		fmt.Fprintf(&b, "%s %s %d/%d classified, %d skipped, %d failed\n",
			label("Worker"), w.Get("status").String(),
			w.Get("classified").Int(), w.Get("totalFiles").Int(),
			w.Get("skipped").Int(), w.Get("failed").Int())
	}

	return b.String()
}

// formatClassification renders a stored or fresh batch result
func formatClassification(c []byte) string {
	return fmt.Sprintf("%s %s  %s %.0f  %s %.2f/%.2f/%.2f  %s",
		label("Genre"), strong(gjson.GetBytes(c, "genre").String()),
		label("Tempo"), gjson.GetBytes(c, "tempoBpm").Float(),
		label("Bands"),
		gjson.GetBytes(c, "low").Float(), gjson.GetBytes(c, "mid").Float(), gjson.GetBytes(c, "high").Float(),
		muted(gjson.GetBytes(c, "path").String()),
	)
}

// formatExports renders the export list, newest first
func formatExports(list []byte) string {
	var b strings.Builder
	for _, r := range gjson.ParseBytes(list).Array() {
		fmt.Fprintf(&b, "%s %-5d %d entries @ %d Hz  %s\n",
			label("#"), r.Get("id").Int(), r.Get("totalSamples").Int(),
			r.Get("sampleRate").Int(), muted(fmt.Sprintf("%d", r.Get("createdAt").Int())))
	}
	if b.Len() == 0 {
		return muted("no exports") + "\n"
	}
	return b.String()
}
