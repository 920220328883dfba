package server

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] {
            width: 200px;
            padding: 5px;
            margin-right: 10px;
        }
        select { padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        button:disabled { background-color: #999; }
        .status {
            margin: 10px 0;
            padding: 5px;
            border-radius: 3px;
        }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Chat Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="roomInput" placeholder="Room (user id)" value="demo">
        <select id="senderSelect">
            <option value="user">user</option>
            <option value="admin">admin</option>
        </select>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div style="margin-top: 10px">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="archiveButton" onclick="archiveChat()" disabled>Archive</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const roomInput = document.getElementById('roomInput');
        const senderSelect = document.getElementById('senderSelect');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const archiveButton = document.getElementById('archiveButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.padding = '3px';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function addMessage(msg) {
            const color = msg.sender === 'admin' ? 'green' : 'blue';
            addLine('#' + msg.id + ' [' + msg.sender + '] ' + msg.message, color);
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ event: event, data: data }));
            }
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected to room ' + roomInput.value : 'Disconnected';
            statusDiv.className = connected ? 'status connected' : 'status disconnected';
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            archiveButton.disabled = !connected;
            roomInput.disabled = connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                updateStatus(true);
                emit('joinRoom', { userId: roomInput.value });
            };

            ws.onmessage = function(event) {
                const env = JSON.parse(event.data);
                switch (env.event) {
                case 'chatHistory':
                    addLine('history: ' + env.data.length + ' message(s)');
                    env.data.forEach(addMessage);
                    break;
                case 'newMessage':
                    addMessage(env.data);
                    break;
                case 'messageDeleted':
                    addLine('message #' + env.data + ' deleted');
                    break;
                case 'chatArchived':
                    addLine('chat archived');
                    break;
                case 'typing':
                    addLine('someone is typing...');
                    break;
                default:
                    addLine(env.event + ': ' + JSON.stringify(env.data));
                }
            };

            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addLine('Connection error');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text) {
                emit('sendMessage', { roomId: roomInput.value, sender: senderSelect.value, message: text });
                messageInput.value = '';
            }
        }

        function archiveChat() {
            emit('adminArchiveChat', { roomId: roomInput.value });
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            } else {
                emit('typing', { roomId: roomInput.value });
            }
        });
    </script>
</body>
</html>`
