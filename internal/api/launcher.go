package api

// launcherPage is the minimal operator-facing page at /. It posts a URL to
// /api/resolve and redirects the browser to the returned launch URL.
const launcherPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="robots" content="noindex,nofollow">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>mirrorgate</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 4rem auto; padding: 0 1rem; }
input[type=url] { width: 100%; padding: .5rem; font-size: 1rem; }
button { margin-top: .75rem; padding: .5rem 1.25rem; font-size: 1rem; }
#err { color: #b00020; margin-top: .75rem; }
</style>
</head>
<body>
<h1>mirrorgate</h1>
<p>Enter an allowlisted URL to open its mirror.</p>
<form id="f">
<input id="u" type="url" placeholder="https://example.org/page" required autofocus>
<button type="submit">Open mirror</button>
</form>
<p id="err"></p>
<script>
document.getElementById('f').addEventListener('submit', async function (ev) {
  ev.preventDefault();
  var err = document.getElementById('err');
  err.textContent = '';
  try {
    var res = await fetch('/api/resolve', {
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
      body: JSON.stringify({ url: document.getElementById('u').value })
    });
    var data = await res.json();
    if (!res.ok || !data.ok) {
      err.textContent = data.error || ('resolve failed (' + res.status + ')');
      return;
    }
    window.location.href = data.launchUrl;
  } catch (e) {
    err.textContent = String(e);
  }
});
</script>
</body>
</html>
`
