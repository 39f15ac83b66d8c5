package server

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>dyslexiview</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
</head>
<body>
<main class="container">
    <h1>dyslexiview</h1>

    <section>
        <h2>Record</h2>
        <p id="status">Idle</p>
        <button id="record">Start recording</button>
    </section>

    <section>
        <h2>Recordings</h2>
        <table>
            <thead><tr><th>Recorded</th><th>File</th><th></th></tr></thead>
            <tbody id="recordings"></tbody>
        </table>
    </section>

    <section>
        <h2>Read an image</h2>
        <form id="extract">
            <input type="file" name="image" accept="image/*" required>
            <button type="submit">Extract text</button>
        </form>
        <p id="extract-error" style="color: var(--pico-del-color)"></p>
        <article id="extract-result" hidden>
            <h3>Original</h3><p id="original-text"></p>
            <audio id="original-sound" controls></audio>
            <h3>Summary</h3><p id="summary-text"></p>
            <audio id="summary-sound" controls></audio>
        </article>
    </section>
</main>
<script>
async function post(url, body) {
    const res = await fetch(url, {method: 'POST', body});
    return res.json();
}

async function refreshStatus() {
    const s = await (await fetch('/status')).json();
    const recording = s.status === 'RECORDING';
    document.getElementById('status').textContent =
        s.message || s.last_error || 'Idle';
    document.getElementById('record').textContent =
        recording ? 'Stop recording' : 'Start recording';
    document.getElementById('record').dataset.recording = recording;
}

async function refreshRecordings() {
    const data = await (await fetch('/api/recordings')).json();
    const rows = data.recordings.map(r => {
        const enhanced = r.enhanced
            ? '<button class="secondary" onclick="play(\'' + r.id + '\', true)">Enhanced</button>'
            : '';
        return '<tr><td>' + r.time_human + '</td><td>' + r.filename + '</td><td>' +
            '<button onclick="play(\'' + r.id + '\', false)">Play</button> ' + enhanced + '</td></tr>';
    });
    document.getElementById('recordings').innerHTML = rows.join('');
}

async function play(id, enhanced) {
    const form = new FormData();
    form.append('id', id);
    form.append('enhanced', enhanced);
    await post('/api/play', form);
}

document.getElementById('record').addEventListener('click', async (e) => {
    const recording = e.target.dataset.recording === 'true';
    await post(recording ? '/record/stop' : '/record/start');
    refreshStatus();
    refreshRecordings();
});

document.getElementById('extract').addEventListener('submit', async (e) => {
    e.preventDefault();
    const result = document.getElementById('extract-result');
    const error = document.getElementById('extract-error');
    result.hidden = true;
    error.textContent = '';
    const data = await post('/api/extract', new FormData(e.target));
    if (!data.success) {
        error.textContent = data.error;
        return;
    }
    document.getElementById('original-text').textContent = data.original_text;
    document.getElementById('summary-text').textContent = data.summarized_text;
    document.getElementById('original-sound').src = data.original_sound_url;
    document.getElementById('summary-sound').src = data.summary_sound_url;
    result.hidden = false;
});

refreshStatus();
refreshRecordings();
setInterval(refreshStatus, 1000);
setInterval(refreshRecordings, 5000);
</script>
</body>
</html>`
