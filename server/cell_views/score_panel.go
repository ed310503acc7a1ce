package cell_views

import (
	"html/template"

	"catmouse/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// ScorePanel shows the run's progress and score as text.
type ScorePanel struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewScorePanel(
	done <-chan struct{},
	frames <-chan Frame,
) (sp *ScorePanel) {
	sp = &ScorePanel{id: "scorepanel"}
	sp.updates = channerics.Convert(done, frames, sp.onUpdate)
	return
}

func (sp *ScorePanel) Updates() <-chan []fastview.EleUpdate {
	return sp.updates
}

func (sp *ScorePanel) onUpdate(frame Frame) []fastview.EleUpdate {
	panel := frame.Panel
	return []fastview.EleUpdate{
		fastview.SetText(sp.id+"-status", panel.Status),
		fastview.SetText(sp.id+"-episode", panel.Episode),
		fastview.SetText(sp.id+"-step", panel.Step),
		fastview.SetText(sp.id+"-reward", panel.Reward),
		fastview.SetText(sp.id+"-exploration", panel.Exploration),
		fastview.SetText(sp.id+"-successes", panel.Successes),
		fastview.SetText(sp.id+"-successrate", panel.SuccessRate),
		fastview.SetText(sp.id+"-best", panel.Best),
		fastview.SetText(sp.id+"-total", panel.Total),
	}
}

func (sp *ScorePanel) Parse(
	t *template.Template,
) (name string, err error) {
	name = sp.id
	_, err = t.Parse(
		`{{ define "` + name + `" }}
		<div id="` + sp.id + `" style="padding:20px; font-family:monospace;">
			<div>run {{ .Panel.RunID }}</div>
			<table>
				<tr><td>Status</td><td id="` + sp.id + `-status">{{ .Panel.Status }}</td>
					<td>Success rate</td><td id="` + sp.id + `-successrate">{{ .Panel.SuccessRate }}</td></tr>
				<tr><td>Episode</td><td id="` + sp.id + `-episode">{{ .Panel.Episode }}</td>
					<td>Successes</td><td id="` + sp.id + `-successes">{{ .Panel.Successes }}</td></tr>
				<tr><td>Step</td><td id="` + sp.id + `-step">{{ .Panel.Step }}</td>
					<td>Episode score</td><td id="` + sp.id + `-reward">{{ .Panel.Reward }}</td></tr>
				<tr><td>Exploration</td><td id="` + sp.id + `-exploration">{{ .Panel.Exploration }}</td>
					<td>Record</td><td id="` + sp.id + `-best">{{ .Panel.Best }}</td></tr>
				<tr><td></td><td></td>
					<td>Total</td><td id="` + sp.id + `-total">{{ .Panel.Total }}</td></tr>
			</table>
		</div>
		{{ end }}`)
	return
}
