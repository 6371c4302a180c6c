package server

import "net/http"

// viewerPage draws the table from /export/web, looks up the clicked point
// through /nearest and redraws when /ws reports a reload.
const viewerPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>f-k Map</title>
<style>
  body { font-family: sans-serif; margin: 1.5rem; background: #111; color: #ddd; }
  canvas { background: #fff; cursor: crosshair; }
  #info { margin-top: 0.75rem; font-family: monospace; }
  #status { color: #8a8; font-size: 0.85rem; }
</style>
</head>
<body>
<h2>f-k Map: Spatial Variation</h2>
<div id="status">loading</div>
<canvas id="map" width="800" height="600"></canvas>
<div id="info">click the map to find the nearest run</div>
<script>
const canvas = document.getElementById("map");
const ctx = canvas.getContext("2d");
const statusEl = document.getElementById("status");
const info = document.getElementById("info");
const pad = 40;
let data = { f: [], k: [], v: [], filenames: [] };
let bounds = null;

function range(xs) {
  let lo = Math.min(...xs), hi = Math.max(...xs);
  if (lo === hi) { lo -= 0.001; hi += 0.001; }
  return [lo, hi];
}

function draw() {
  ctx.clearRect(0, 0, canvas.width, canvas.height);
  if (data.f.length === 0) { statusEl.textContent = "dataset is empty"; return; }
  const [kLo, kHi] = range(data.k), [fLo, fHi] = range(data.f), [vLo, vHi] = range(data.v);
  bounds = { kLo, kHi, fLo, fHi };
  for (let i = 0; i < data.f.length; i++) {
    const x = pad + (data.k[i] - kLo) / (kHi - kLo) * (canvas.width - 2 * pad);
    const y = canvas.height - pad - (data.f[i] - fLo) / (fHi - fLo) * (canvas.height - 2 * pad);
    const t = (data.v[i] - vLo) / (vHi - vLo);
    ctx.fillStyle = "hsl(" + (260 - 200 * t) + ", 70%, 45%)";
    ctx.fillRect(x - 2, y - 2, 4, 4);
  }
  statusEl.textContent = data.f.length + " runs";
}

async function load() {
  const text = await (await fetch("/export/web")).text();
  data = new Function(text + "; return fkData;")();
  draw();
}

canvas.addEventListener("click", async (ev) => {
  if (!bounds) return;
  const r = canvas.getBoundingClientRect();
  const k = bounds.kLo + (ev.clientX - r.left - pad) / (canvas.width - 2 * pad) * (bounds.kHi - bounds.kLo);
  const f = bounds.fLo + (canvas.height - pad - (ev.clientY - r.top)) / (canvas.height - 2 * pad) * (bounds.fHi - bounds.fLo);
  const resp = await fetch("/nearest?f=" + f + "&k=" + k);
  if (!resp.ok) { info.textContent = await resp.text(); return; }
  const row = await resp.json();
  info.textContent = "f=" + row.f + " k=" + row.k + " variation=" + row.variation + "  " + row.path;
});

function connect() {
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onmessage = (ev) => {
    const msg = JSON.parse(ev.data);
    if (msg.event === "reload") load();
  };
  ws.onclose = () => setTimeout(connect, 2000);
}

load();
connect();
</script>
</body>
</html>`

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(viewerPage))
}
