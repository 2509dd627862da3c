package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"
	"go.uber.org/zap"

	"github.com/mikeyg42/bodytrack/internal/export"
	"github.com/mikeyg42/bodytrack/internal/session"
)

// JSON-RPC methods served on /ws.
const (
	MethodStart    = "session.start"
	MethodStop     = "session.stop"
	MethodPause    = "session.pause"
	MethodResume   = "session.resume"
	MethodState    = "session.state"
	MethodAnalysis = "analysis.current"
	MethodCSV      = "export.csv"

	// NotifyAnalysis carries every published analysis to the client.
	NotifyAnalysis = "analysis"
)

// Application error codes.
const (
	codeAcquire     = -32001
	codeNotTracking = -32002
	codeNoSession   = -32003
)

// CSVParams selects a table for export.csv.
type CSVParams struct {
	Schema string `json:"schema"`
}

// CSVResult is the reply to export.csv.
type CSVResult struct {
	SessionID string `json:"sessionId"`
	Schema    string `json:"schema"`
	CSV       string `json:"csv"`
}

const analysisBuffer = 8

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(1 << 20)

	ctx, cancel := context.WithCancel(s.ctx)
	rpc := jsonrpc2.NewConn(ctx, wsstream.NewObjectStream(conn),
		jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handleRPC)))

	s.connMu.Lock()
	s.conns[rpc] = struct{}{}
	s.connMu.Unlock()
	s.logger.Debug("Websocket client connected", zap.String("remote", r.RemoteAddr))

	go s.pushAnalysis(ctx, rpc)
	go func() {
		select {
		case <-rpc.DisconnectNotify():
		case <-ctx.Done():
			_ = rpc.Close()
		}
		cancel()
		s.connMu.Lock()
		delete(s.conns, rpc)
		s.connMu.Unlock()
		s.logger.Debug("Websocket client disconnected", zap.String("remote", r.RemoteAddr))
	}()
}

// pushAnalysis sends the current analysis and then every update until the
// client goes away. Slow clients skip intermediate values.
func (s *Server) pushAnalysis(ctx context.Context, rpc *jsonrpc2.Conn) {
	bc := s.sessions.Broadcaster()
	updates, cancel := bc.Watch(analysisBuffer)
	defer cancel()

	if err := rpc.Notify(ctx, NotifyAnalysis, bc.Current()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-rpc.DisconnectNotify():
			return
		case v, ok := <-updates:
			if !ok {
				return
			}
			if err := rpc.Notify(ctx, NotifyAnalysis, v); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleRPC(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case MethodStart:
		snap, err := s.sessions.Start(ctx)
		if err != nil {
			return nil, rpcError(err)
		}
		return snap, nil
	case MethodStop:
		resp, err := s.stop(ctx)
		if err != nil {
			return nil, rpcError(err)
		}
		return resp, nil
	case MethodPause, MethodResume:
		snap, err := s.sessions.SetVisible(ctx, req.Method == MethodResume)
		if err != nil {
			return nil, rpcError(err)
		}
		return snap, nil
	case MethodState:
		return s.sessions.Snapshot(), nil
	case MethodAnalysis:
		return s.sessions.Broadcaster().Current(), nil
	case MethodCSV:
		var p CSVParams
		if req.Params == nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
		}
		if err := json.Unmarshal(*req.Params, &p); err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
		schema, err := export.ParseSchema(p.Schema)
		if err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
		sid, data, err := s.csv(ctx, schema)
		if err != nil {
			return nil, rpcError(err)
		}
		return CSVResult{SessionID: sid, Schema: string(schema), CSV: string(data)}, nil
	}
	return nil, &jsonrpc2.Error{
		Code:    jsonrpc2.CodeMethodNotFound,
		Message: fmt.Sprintf("method not found: %s", req.Method),
	}
}

func rpcError(err error) *jsonrpc2.Error {
	code := int64(jsonrpc2.CodeInternalError)
	switch {
	case errors.Is(err, session.ErrAcquire):
		code = codeAcquire
	case errors.Is(err, session.ErrNotTracking):
		code = codeNotTracking
	case errors.Is(err, errNoSession):
		code = codeNoSession
	}
	return &jsonrpc2.Error{Code: code, Message: err.Error()}
}

func (s *Server) clientCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}
