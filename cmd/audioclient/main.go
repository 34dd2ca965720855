// Command audioclient streams a 16kHz 16-bit mono WAV file to the bridge
// over WebSocket and prints the transcript entries it gets back.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"live-transcription-bridge/internal/consumer"
	"live-transcription-bridge/internal/protocol"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in chunks to simulate real-time capture.
// At 16kHz 16-bit mono = 32000 bytes/second; 100ms chunks = 3200 bytes.
const chunkSize = 3200
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverAddr := flag.String("server", "ws://localhost:8080/v1/stream", "Bridge WebSocket URL")
	drain := flag.Duration("drain", 3*time.Second, "How long to wait for trailing turns after the audio ends")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*serverAddr, nil)
	if err != nil {
		log.Fatalf("Failed to connect to bridge: %v", err)
	}
	defer conn.Close()

	entries := consumer.New(
		consumer.WithEntryFunc(func(e consumer.Entry) {
			fmt.Printf("[%s] %s: %s\n", e.Timestamp.Format("15:04:05"), e.Speaker, e.Text)
		}),
		consumer.WithErrorFunc(func(err error) {
			log.Printf("session error: %v", err)
		}),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			ev, err := protocol.Parse(data)
			if err != nil {
				log.Printf("unparseable message: %s", data)
				continue
			}
			if ev.Type == "connected" {
				log.Println("bridge ready, streaming audio")
				continue
			}
			entries.Consume(ev)
		}
	}()

	// Stream the PCM body in real-time-sized chunks.
	buf := make([]byte, chunkSize)
	ticker := time.NewTicker(chunkIntervalMs * time.Millisecond)
	defer ticker.Stop()

	sent := 0
	for range ticker.C {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				log.Fatalf("write failed after %d bytes: %v", sent, werr)
			}
			sent += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("read failed: %v", err)
		}
	}
	log.Printf("sent %d audio bytes, draining", sent)

	// Give trailing turns a chance to arrive, then close cleanly.
	select {
	case <-done:
	case <-time.After(*drain):
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	got := entries.Entries()
	log.Printf("received %d transcript entries", len(got))
}
