package root_view

import (
	"html/template"
	"io"

	"qmaze/models"
	"qmaze/reinforcement"
	"qmaze/server/cell_views"
)

// ViewComponent is a view with its own template, nested in the main page.
type ViewComponent interface {
	// Parse defines the view's template in t and returns its name.
	Parse(t *template.Template) (string, error)
}

// RootView is the main page's index.html, the container for the view components
// and the websocket bootstrap that keeps them current.
type RootView struct {
	grid  *models.Grid
	views []ViewComponent
	page  *template.Template
	name  string
}

// NewRootView builds and parses the main page for the given maze.
func NewRootView(grid *models.Grid) (*RootView, error) {
	rv := &RootView{
		grid: grid,
		views: []ViewComponent{
			cell_views.NewValuesGrid(),
		},
	}

	var err error
	if rv.name, err = rv.Parse(template.New("root")); err != nil {
		return nil, err
	}
	return rv, nil
}

// Render writes the main page as of snap.
func (rv *RootView) Render(w io.Writer, snap reinforcement.Snapshot) error {
	return rv.page.ExecuteTemplate(w, rv.name, cell_views.Convert(rv.grid, snap))
}

// Parse builds the main page's template, with websocket bootstrap code, and returns its name.
// It also sets up the func-map the child components depend on, which must exist before
// they parse.
func (rv *RootView) Parse(
	parent *template.Template,
) (name string, err error) {
	rt := parent.Funcs(
		template.FuncMap{
			"add":  func(i, j int) int { return i + j },
			"sub":  func(i, j int) int { return i - j },
			"mult": func(i, j int) int { return i * j },
			"div":  func(i, j int) int { return i / j },
		})

	viewTemplates := []string{}
	for _, vc := range rv.views {
		tname, parseErr := vc.Parse(rt)
		if parseErr != nil {
			err = parseErr
			return
		}
		viewTemplates = append(viewTemplates, tname)
	}

	var bodySpec string
	for _, tname := range viewTemplates {
		bodySpec += (`{{ template "` + tname + `" . }}`)
	}

	// The main template bootstraps the rest: the controls, the websocket, and the
	// script that applies each received snapshot to the cells rendered by the views.
	name = "mainpage"
	indexTemplate := `
	{{ define "` + name + `" }}
	<!DOCTYPE html>
	<html>
		<head>
			<link rel="icon" href="data:,">
			<title>qmaze</title>
			<script>
				const arrows = ["^", "v", "<", ">"];
				let ws = null;

				function subscribe(path) {
					if (ws !== null) {
						ws.onclose = null;
						ws.close();
					}
					ws = new WebSocket("ws://" + location.host + path);
					ws.onopen = () => setStatus("subscribed to " + path);
					ws.onerror = (event) => console.log("WebSocket error: ", event);
					ws.onclose = () => setStatus("disconnected");
					ws.onmessage = (event) => render(JSON.parse(event.data));
				}

				function setStatus(text) {
					document.getElementById("status").textContent = text;
				}

				function post(path) {
					fetch(path, { method: "POST" })
						.then((resp) => resp.json())
						.then((body) => { if (body.status) { setStatus(body.status); } });
				}

				function setVisible(id, visible) {
					const ele = document.getElementById(id);
					if (ele) {
						ele.setAttribute("visibility", visible ? "visible" : "hidden");
					}
				}

				function render(snap) {
					const state = snap.current_state;
					const visited = new Set(state.path.map((p) => p[0] + "-" + p[1]));
					const agent = state.agent[0][0] + "-" + state.agent[0][1];
					const special = new Set(state.obstacles.concat(state.goal).map((p) => p[0] + "-" + p[1]));

					for (const cell of document.querySelectorAll("[data-row]")) {
						const key = cell.dataset.row + "-" + cell.dataset.col;
						let best = 0, max = -Infinity;
						for (let a = 0; a < arrows.length; a++) {
							const val = snap.q_table[cell.dataset.row + "," + cell.dataset.col + "," + a];
							if (val > max) {
								best = a;
								max = val;
							}
						}
						document.getElementById(cell.id + "-max").textContent = max.toFixed(2);
						document.getElementById(cell.id + "-arrow").textContent = special.has(key) ? "" : arrows[best];
						setVisible(cell.id + "-agent", key === agent);
						setVisible(cell.id + "-visited", visited.has(key));
					}
				}

				window.onload = () => subscribe("/ws");
			</script>
		</head>
		<body>
			<div>
				<button onclick="post('/maze/step')">Step</button>
				<button onclick="post('/maze/reset')">Reset</button>
				<button onclick="subscribe('/maze/simulate')">Simulate</button>
				<button onclick="post('/maze/simulate/stop')">Stop</button>
				<span id="status"></span>
			</div>
		` + bodySpec + `
		</body></html>
	{{ end }}
	`

	rv.page, err = rt.Parse(indexTemplate)
	return
}
