package gateway

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arivoice/aria/internal/frame"
	"github.com/arivoice/aria/internal/relay"
	"github.com/arivoice/aria/internal/stage"
	"github.com/arivoice/aria/internal/status"
	"github.com/arivoice/aria/internal/stream"
)

// errorFrame is the terminal frame sent to the caller before an abnormal
// close.
type errorFrame struct {
	Type   string      `json:"type"`
	Code   status.Code `json:"code"`
	Detail string      `json:"detail"`
}

// closeSignal asks the writer to send a close frame after everything queued
// before it, so the error frame always reaches the caller first.
type closeSignal struct {
	code   int
	reason string
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if cs, ok := msg.(closeSignal); ok {
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(cs.code, cs.reason))
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	s.driveCall(ctx, conn, outbound)

	close(outbound)
	<-writerDone
	cancel()
}

// driveCall runs the validator-stage-relay loop for one inbound stream. The
// caller sees every stage output; the relay, when configured, sees the same
// data frames after its own configuration frame.
func (s *Server) driveCall(ctx context.Context, conn *websocket.Conn, outbound chan<- any) {
	validator := stream.NewValidator(s.opts.Required...)
	var proc stage.Processor
	var rl *relay.Relay
	var sessionID string
	defer func() {
		if rl != nil {
			_ = rl.Close()
		}
	}()

	send := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}

	emit := func(d frame.Data) error {
		if !send(frame.NewData(d)) {
			return ctx.Err()
		}
		s.metrics.Frames.WithLabelValues("outbound", "data").Inc()
		if s.opts.RelayURL != "" {
			res := rl.Forward(d)
			s.metrics.RelayResults.WithLabelValues(res.String()).Inc()
		}
		return nil
	}

	abort := func(err error) {
		se := status.FromError(err)
		log.Printf("gateway: %s session %q call failed: %v", s.opts.ServiceName, sessionID, se)
		s.metrics.CallErrors.WithLabelValues(string(se.Code)).Inc()
		send(errorFrame{Type: "error", Code: se.Code, Detail: se.Detail})
		send(closeSignal{code: status.CloseCode(se.Code), reason: string(se.Code)})
	}

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	clean := false
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			clean = websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived)
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}

		f, derr := frame.Decode(data)
		if derr != nil {
			// Before configuration the protocol is strict; afterwards a bad
			// frame is logged and skipped so one malformed message cannot
			// kill an established call.
			if !validator.ConfigSeen() {
				abort(status.Invalidf("malformed first frame: %v", derr))
				return
			}
			log.Printf("gateway: %s session %q skipping malformed frame: %v", s.opts.ServiceName, sessionID, derr)
			continue
		}

		step, verr := validator.Accept(f)
		if verr != nil {
			abort(verr)
			return
		}

		switch step.Kind {
		case stream.StepConfig:
			sessionID = step.Config.SessionID
			s.sessions.Touch(sessionID)
			s.metrics.ActiveSessions.Set(float64(s.sessions.Len()))
			s.metrics.Frames.WithLabelValues("inbound", "config").Inc()
			proc = s.factory.NewCall(step.Config)
			if s.opts.RelayURL != "" {
				dialed, derr := relay.Dial(ctx, s.opts.RelayURL, step.Config, relay.Options{})
				if derr != nil {
					// Degraded: the inbound call continues, forwards report
					// Skipped until the caller reconnects.
					log.Printf("gateway: %s session %q downstream unavailable: %v", s.opts.ServiceName, sessionID, derr)
					s.metrics.RelayResults.WithLabelValues(relay.Failed.String()).Inc()
				} else {
					rl = dialed
				}
			}

		case stream.StepData:
			s.sessions.Touch(sessionID)
			s.metrics.Frames.WithLabelValues("inbound", "data").Inc()
			if perr := proc.Process(ctx, step.Data, emit); perr != nil {
				abort(perr)
				return
			}

		case stream.StepSkip:
			log.Printf("gateway: %s session %q skipping unclassifiable frame", s.opts.ServiceName, sessionID)
		}
	}

	if clean && proc != nil && ctx.Err() == nil {
		if ferr := proc.Flush(ctx, emit); ferr != nil {
			abort(ferr)
		}
	}
}
