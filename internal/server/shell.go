package server

// readerShell is the single-page reading UI. It connects to /ws, requests
// chapters over the socket, and renders whatever the server pushes back.
const readerShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Folio</title>
<style>
body { margin: 0; font-family: Georgia, serif; background: #faf8f2; color: #222; }
header { display: flex; align-items: baseline; gap: 1rem; padding: .6rem 1rem;
         background: #2f2a24; color: #f0ead8; }
header h1 { font-size: 1rem; margin: 0; }
header .nav button { margin-left: .4rem; }
#chapter { max-width: 42rem; margin: 1.5rem auto; padding: 0 1rem; line-height: 1.6; }
#chapter img { max-width: 100%; }
#status { font-size: .8rem; color: #8a8172; margin-left: auto; }
.error { border-left: 4px solid #b03a2e; padding: .5rem 1rem; background: #fbeeec; }
</style>
</head>
<body>
<header>
  <h1 id="title">Folio</h1>
  <span class="nav">
    <button id="prev">&#8592; Prev</button>
    <button id="next">Next &#8594;</button>
  </span>
  <span id="status"></span>
</header>
<div id="chapter"></div>
<script>
(function () {
  var ws = new WebSocket("ws://" + location.host + "/ws");
  var current = 0, count = 0;

  function go(index) {
    if (index < 0 || (count && index >= count)) return;
    ws.send(JSON.stringify({op: "chapter", index: index}));
  }

  ws.onmessage = function (ev) {
    var msg = JSON.parse(ev.data);
    if (msg.type === "book") {
      count = msg.chapter_count;
      document.getElementById("title").textContent = msg.title || "Folio";
      document.title = msg.title || "Folio";
      go(msg.position || 0);
    } else if (msg.type === "chapter") {
      current = msg.index;
      document.getElementById("chapter").innerHTML = msg.html;
      document.getElementById("status").textContent =
        "Chapter " + (msg.index + 1) + " / " + count;
      window.scrollTo(0, 0);
    } else if (msg.type === "error") {
      document.getElementById("chapter").innerHTML =
        '<div class="error"><strong></strong><p></p></div>';
      document.querySelector(".error strong").textContent = msg.title;
      document.querySelector(".error p").textContent = msg.message;
    }
  };

  document.getElementById("prev").onclick = function () { go(current - 1); };
  document.getElementById("next").onclick = function () { go(current + 1); };
  document.addEventListener("keydown", function (ev) {
    if (ev.key === "ArrowLeft") go(current - 1);
    if (ev.key === "ArrowRight") go(current + 1);
  });
})();
</script>
</body>
</html>
`
