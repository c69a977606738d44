package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/seantiz/impactsweep/internal/backend"
)

// CodeUnknownOp is reported for a request whose op the kernel does not serve.
const CodeUnknownOp = "unknown_op"

// Server is the kernel side of the protocol. It answers requests by calling an
// in-process engine, which lets the host side run against a simulated kernel.
type Server struct {
	engine backend.Engine
	logger *slog.Logger

	// writeMu serialises frames from concurrent requests.
	writeMu sync.Mutex
	w       io.Writer

	mu      sync.Mutex
	outputs map[string]backend.Output
	handles int
}

// NewServer returns a server dispatching to eng.
func NewServer(eng backend.Engine, logger *slog.Logger) *Server {
	return &Server{
		engine:  eng,
		logger:  logger,
		outputs: make(map[string]backend.Output),
	}
}

// Serve reads requests from conn until it reaches EOF or a shutdown request
// arrives. Requests run concurrently, so results can go out in any order. Open
// outputs are closed before Serve returns.
func (s *Server) Serve(ctx context.Context, conn io.ReadWriter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.w = conn
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		s.closeOutputs()
	}()

	for {
		var req Request
		if err := ReadMessage(conn, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		if req.Op == OpShutdown {
			s.logger.Info("kernel shutting down")
			cancel()
			wg.Wait()
			return s.reply(req.ID, nil, nil)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.dispatch(ctx, req)
			if err != nil {
				s.logger.Debug("request failed", "op", req.Op, "id", req.ID, "error", err)
			}
			if werr := s.reply(req.ID, result, err); werr != nil {
				s.logger.Error("failed to write result", "op", req.Op, "id", req.ID, "error", werr)
			}
		}()
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) (any, error) {
	eng := s.engine
	switch req.Op {
	case OpPing:
		return nil, nil

	case OpOpenModel:
		a, err := decode[backend.ModelSource](req.Args)
		if err != nil {
			return nil, err
		}
		s.logf("opening model %s from %s", a.Model, a.Path)
		return nil, eng.OpenModel(ctx, a)

	case OpDeleteMesh:
		a, err := decode[partArgs](req.Args)
		if err != nil {
			return nil, err
		}
		return nil, eng.DeleteMesh(ctx, a.Model, a.Part)

	case OpSeedPart:
		a, err := decode[seedArgs](req.Args)
		if err != nil {
			return nil, err
		}
		return nil, eng.SeedPart(ctx, a.Model, a.Part, a.Seed)

	case OpGenerateMesh:
		a, err := decode[partArgs](req.Args)
		if err != nil {
			return nil, err
		}
		return eng.GenerateMesh(ctx, a.Model, a.Part)

	case OpRegenerateAssembly:
		a, err := decode[modelArgs](req.Args)
		if err != nil {
			return nil, err
		}
		return nil, eng.RegenerateAssembly(ctx, a.Model)

	case OpSetStepTiming:
		a, err := decode[stepArgs](req.Args)
		if err != nil {
			return nil, err
		}
		return nil, eng.SetStepTiming(ctx, a.Model, a.Step, a.Timing)

	case OpSetTangential:
		a, err := decode[tangentialArgs](req.Args)
		if err != nil {
			return nil, err
		}
		return nil, eng.SetTangentialBehavior(ctx, a.Model, a.Property, a.Behavior)

	case OpSetVelocityField:
		a, err := decode[velocityArgs](req.Args)
		if err != nil {
			return nil, err
		}
		return nil, eng.SetVelocityField(ctx, a.Model, a.Field, a.Velocity)

	case OpSetFeatureDepth:
		a, err := decode[depthArgs](req.Args)
		if err != nil {
			return nil, err
		}
		return nil, eng.SetFeatureDepth(ctx, a.Model, a.Part, a.Feature, a.Depth)

	case OpRegeneratePart:
		a, err := decode[partArgs](req.Args)
		if err != nil {
			return nil, err
		}
		return nil, eng.RegeneratePart(ctx, a.Model, a.Part)

	case OpSubmitJob:
		a, err := decode[backend.JobSpec](req.Args)
		if err != nil {
			return nil, err
		}
		if err := eng.SubmitJob(ctx, a); err != nil {
			return nil, err
		}
		s.logf("job %s submitted on %d cpus", a.Name, a.CPUs)
		return nil, nil

	case OpWaitJob:
		a, err := decode[jobArgs](req.Args)
		if err != nil {
			return nil, err
		}
		out, err := eng.WaitJob(ctx, a.Job)
		if err != nil {
			return nil, err
		}
		s.logf("job %s %s", a.Job, out.State)
		return out, nil

	case OpKillJob:
		a, err := decode[jobArgs](req.Args)
		if err != nil {
			return nil, err
		}
		return nil, eng.KillJob(ctx, a.Job)

	case OpOpenOutput:
		a, err := decode[pathArgs](req.Args)
		if err != nil {
			return nil, err
		}
		out, err := eng.OpenOutput(ctx, a.Path)
		if err != nil {
			return nil, err
		}
		return handleResult{Handle: s.register(out)}, nil

	case OpOutputSteps:
		a, err := decode[handleArgs](req.Args)
		if err != nil {
			return nil, err
		}
		out, err := s.output(a.Handle)
		if err != nil {
			return nil, err
		}
		return out.Steps(ctx)

	case OpOutputFrameCount:
		a, err := decode[frameCountArgs](req.Args)
		if err != nil {
			return nil, err
		}
		out, err := s.output(a.Handle)
		if err != nil {
			return nil, err
		}
		return out.FrameCount(ctx, a.Step)

	case OpOutputFieldValues:
		a, err := decode[fieldArgs](req.Args)
		if err != nil {
			return nil, err
		}
		out, err := s.output(a.Handle)
		if err != nil {
			return nil, err
		}
		return out.FieldValues(ctx, a.FieldQuery)

	case OpCloseOutput:
		a, err := decode[handleArgs](req.Args)
		if err != nil {
			return nil, err
		}
		return nil, s.release(a.Handle)

	default:
		return nil, &RemoteError{Code: CodeUnknownOp, Message: fmt.Sprintf("unsupported op %q", req.Op)}
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode args: %w", err)
	}
	return v, nil
}

func (s *Server) register(out backend.Output) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles++
	h := "odb-" + strconv.Itoa(s.handles)
	s.outputs[h] = out
	return h
}

func (s *Server) output(handle string) (backend.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outputs[handle]
	if !ok {
		return nil, fmt.Errorf("output handle %q: %w", handle, backend.ErrNotFound)
	}
	return out, nil
}

func (s *Server) release(handle string) error {
	s.mu.Lock()
	out, ok := s.outputs[handle]
	delete(s.outputs, handle)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("output handle %q: %w", handle, backend.ErrNotFound)
	}
	return out.Close()
}

func (s *Server) closeOutputs() {
	s.mu.Lock()
	outputs := s.outputs
	s.outputs = make(map[string]backend.Output)
	s.mu.Unlock()
	for h, out := range outputs {
		if err := out.Close(); err != nil {
			s.logger.Warn("failed to close output", "handle", h, "error", err)
		}
	}
}

// logf streams a progress line to the host.
func (s *Server) logf(format string, args ...any) {
	if err := s.send(Message{Type: MsgTypeLog, Line: fmt.Sprintf(format, args...)}); err != nil {
		s.logger.Warn("failed to write log line", "error", err)
	}
}

func (s *Server) reply(id string, result any, err error) error {
	msg := Message{Type: MsgTypeResult, ID: id}
	if err != nil {
		msg.Error = remoteError(err)
		return s.send(msg)
	}
	if result != nil {
		raw, merr := json.Marshal(result)
		if merr != nil {
			msg.Error = &RemoteError{Message: fmt.Sprintf("marshal result: %v", merr)}
			return s.send(msg)
		}
		msg.Result = raw
	}
	return s.send(msg)
}

func (s *Server) send(msg Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteMessage(s.w, &msg)
}

// remoteError reverses RemoteError.Unwrap so sentinels survive the round trip.
func remoteError(err error) *RemoteError {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	code := ""
	switch {
	case errors.Is(err, backend.ErrNodeSetNotFound):
		code = CodeNodeSetNotFound
	case errors.Is(err, backend.ErrFieldNotFound):
		code = CodeFieldNotFound
	case errors.Is(err, backend.ErrNotFound):
		code = CodeNotFound
	}
	return &RemoteError{Code: code, Message: err.Error()}
}
