// Package devserver is a local stand-in for the realtime dialogue
// service plus the kiosk's key-value store. It speaks just enough of
// the wire protocol to exercise a full conversation loop: scripted
// audio and transcript deltas for every requested response, cancel
// acknowledgements, and a naive summarization endpoint.
package devserver

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/kioskworks/go-kiosk/internal/log"
	"github.com/kioskworks/go-kiosk/pkg/audioio"
	"github.com/kioskworks/go-kiosk/pkg/protocol"
	"github.com/kioskworks/go-kiosk/pkg/transcript"
)

// Number of audio/transcript delta frames per scripted reply.
const scriptedDeltas = 3

// Server is the development backend.
type Server struct {
	app    *fiber.App
	logger *slog.Logger

	mu    sync.Mutex
	kv    map[string]json.RawMessage
	reply scriptedReply
}

type scriptedReply struct {
	transcript string
	samples    []int16
}

// New creates the dev server with all routes registered.
func New() *Server {
	s := &Server{
		logger: log.With("component", "devserver"),
		kv:     make(map[string]json.RawMessage),
		reply: scriptedReply{
			transcript: "Hello! How can I help you today?",
			samples:    testTone(2400),
		},
	}

	app := fiber.New(fiber.Config{
		AppName:               "kiosk-devserver",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/transcriptions/summarize", s.handleSummarize)

	app.Put("/store/*", s.handleStorePut)
	app.Get("/store/*", s.handleStoreGet)
	app.Delete("/store/*", s.handleStoreDelete)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleWS))

	s.app = app
	return s
}

// Listen serves on the given address until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("dev server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener. Tests use this to bind an
// ephemeral port.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// --- summarization ---

func (s *Server) handleSummarize(c *fiber.Ctx) error {
	var req struct {
		Messages []transcript.Message `json:"messages"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	var parts []string
	for _, m := range req.Messages {
		if m.Role == transcript.RoleUser {
			parts = append(parts, strings.TrimSpace(m.Content))
		}
	}
	summary := "Visitor session."
	if len(parts) > 0 {
		summary = "Visitor said: " + strings.Join(parts, "; ")
	}
	return c.JSON(fiber.Map{"summary": summary})
}

// --- key-value store ---

func storeKey(c *fiber.Ctx) string {
	return strings.TrimSuffix(strings.Trim(c.Params("*"), "/"), ".json")
}

func (s *Server) handleStorePut(c *fiber.Ctx) error {
	key := storeKey(c)
	body := make(json.RawMessage, len(c.Body()))
	copy(body, c.Body())

	s.mu.Lock()
	s.kv[key] = body
	s.mu.Unlock()

	s.logger.Debug("store write", "key", key)
	return c.JSON(nil)
}

func (s *Server) handleStoreGet(c *fiber.Ctx) error {
	key := storeKey(c)

	s.mu.Lock()
	value, ok := s.kv[key]
	s.mu.Unlock()

	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no value at "+key)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(value)
}

func (s *Server) handleStoreDelete(c *fiber.Ctx) error {
	key := storeKey(c)

	s.mu.Lock()
	delete(s.kv, key)
	s.mu.Unlock()

	s.logger.Debug("store delete", "key", key)
	return c.JSON(nil)
}

// --- realtime protocol ---

func (s *Server) handleWS(conn *websocket.Conn) {
	s.logger.Info("client connected")
	defer s.logger.Info("client disconnected")

	currentResponse := ""
	audioFrames := 0

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if msgType == websocket.BinaryMessage {
			audioFrames++
			continue
		}

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			writeJSON(conn, fiber.Map{
				"type":    protocol.TypeError,
				"message": "invalid message",
			})
			continue
		}

		switch msg["type"] {
		case protocol.TypeSessionUpdate:
			writeJSON(conn, fiber.Map{"type": "session.updated"})

		case protocol.TypeResponseCreate:
			currentResponse = uuid.NewString()
			s.scriptResponse(conn, currentResponse)
			currentResponse = ""

		case protocol.TypeResponseCancel:
			id, _ := msg["response_id"].(string)
			if id == "" {
				id = currentResponse
			}
			writeJSON(conn, fiber.Map{
				"type":        protocol.TypeResponseCancelled,
				"response_id": id,
			})

		case protocol.TypeConversationItemCreate:
			// Echo the typed text back as a completed transcription,
			// the same shape speech takes after server-side ASR.
			text := itemText(msg)
			writeJSON(conn, fiber.Map{
				"type":       protocol.TypeInputTranscriptionCompleted,
				"transcript": text,
			})
		}
	}
}

// scriptResponse plays out one canned assistant reply.
func (s *Server) scriptResponse(conn *websocket.Conn, responseID string) {
	writeJSON(conn, fiber.Map{
		"type":     protocol.TypeResponseCreated,
		"response": fiber.Map{"id": responseID},
	})

	s.mu.Lock()
	reply := s.reply
	s.mu.Unlock()

	words := strings.SplitAfter(reply.transcript, " ")
	pcm := audioio.SamplesToBytes(reply.samples)
	for i := 0; i < scriptedDeltas; i++ {
		writeJSON(conn, fiber.Map{
			"type":  protocol.TypeResponseAudioDelta,
			"delta": base64.StdEncoding.EncodeToString(pcm),
		})

		lo := i * len(words) / scriptedDeltas
		hi := (i + 1) * len(words) / scriptedDeltas
		writeJSON(conn, fiber.Map{
			"type":  protocol.TypeAudioTranscriptDelta,
			"delta": strings.Join(words[lo:hi], ""),
		})
	}

	writeJSON(conn, fiber.Map{
		"type":       protocol.TypeAudioTranscriptDone,
		"transcript": reply.transcript,
	})
	writeJSON(conn, fiber.Map{
		"type":     protocol.TypeResponseDone,
		"response": fiber.Map{"id": responseID},
	})
}

func writeJSON(conn *websocket.Conn, v any) {
	if err := conn.WriteJSON(v); err != nil {
		log.Warn("devserver write failed", "error", err)
	}
}

// itemText digs the text out of a conversation.item.create payload.
func itemText(msg map[string]any) string {
	item, _ := msg["item"].(map[string]any)
	content, _ := item["content"].([]any)
	for _, part := range content {
		p, _ := part.(map[string]any)
		if text, _ := p["text"].(string); text != "" {
			return text
		}
	}
	return ""
}

// testTone generates a quiet 440 Hz tone for scripted audio deltas.
func testTone(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(6000 * math.Sin(2*math.Pi*440*float64(i)/24000))
	}
	return samples
}
