package credential

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Jantje19/cargo-credential-bitwarden/internal/logging"
)

// maxRequestBytes bounds a single request line.
const maxRequestBytes = 1 << 20

// Provider is the vault-backed implementation behind the protocol. Get
// returns the stored registry token; Login stores one; Logout erases it.
type Provider interface {
	Get(ctx context.Context, registry RegistryInfo) (string, error)
	Login(ctx context.Context, registry RegistryInfo, token string) error
	Logout(ctx context.Context, registry RegistryInfo) error
}

// Server drives the request/response loop with the parent process. It is the
// single translation point from internal error kinds to the wire error
// schema; no component below it formats user-facing protocol text.
type Server struct {
	provider Provider
	logger   *logging.Logger
	in       io.Reader
	out      io.Writer
	prompt   io.Writer
}

// NewServer creates a server bound to the process stdio streams.
func NewServer(provider Provider, logger *logging.Logger) *Server {
	return NewServerWithStreams(provider, logger, os.Stdin, os.Stdout, os.Stderr)
}

// NewServerWithStreams creates a server with explicit streams, for tests.
func NewServerWithStreams(provider Provider, logger *logging.Logger, in io.Reader, out, prompt io.Writer) *Server {
	return &Server{
		provider: provider,
		logger:   logger,
		in:       in,
		out:      out,
		prompt:   prompt,
	}
}

// Serve announces the supported protocol version, then handles requests
// until stdin closes. Each request is answered exactly once, even on error.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.emit(hello{V: []int{protocolVersion}}); err != nil {
		return err
	}

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Debug("discarding unparseable request: %v", err)
			if err := s.emit(response{Err: &wireError{
				Kind:    errKindOther,
				Message: fmt.Sprintf("failed to parse request: %v", err),
			}}); err != nil {
				return err
			}
			continue
		}

		if err := s.emit(s.handle(ctx, req, scanner)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, req Request, scanner *bufio.Scanner) response {
	if req.V != protocolVersion {
		return response{Err: &wireError{
			Kind:    errKindOther,
			Message: fmt.Sprintf("unsupported protocol version %d, expected %d", req.V, protocolVersion),
		}}
	}

	switch req.Kind {
	case KindGet:
		token, err := s.provider.Get(ctx, req.Registry)
		if err != nil {
			return errorResponse(err)
		}
		return response{Ok: getSuccess{
			Kind:                 KindGet,
			Token:                token,
			Cache:                cacheSession,
			OperationIndependent: true,
		}}

	case KindLogin:
		token := req.Token
		if token == "" {
			read, err := s.readToken(req, scanner)
			if err != nil {
				return errorResponse(err)
			}
			token = read
		}
		if err := s.provider.Login(ctx, req.Registry, token); err != nil {
			return errorResponse(err)
		}
		return response{Ok: kindOnly{Kind: KindLogin}}

	case KindLogout:
		if err := s.provider.Logout(ctx, req.Registry); err != nil {
			return errorResponse(err)
		}
		return response{Ok: kindOnly{Kind: KindLogout}}

	default:
		return errorResponse(ErrOperationNotSupported)
	}
}

// readToken prompts for a registry token when the login request did not
// carry one. The prompt goes to stderr; the token arrives on the next input
// line.
func (s *Server) readToken(req Request, scanner *bufio.Scanner) (string, error) {
	if req.LoginURL != "" {
		fmt.Fprintf(s.prompt, "please obtain a token from %s\n", req.LoginURL)
	}
	fmt.Fprintf(s.prompt, "please paste the token for %s below\n", req.Registry.IndexURL)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return "", errors.New("input closed before a token was provided")
	}

	token := strings.TrimSpace(scanner.Text())
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

func (s *Server) emit(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// errorResponse maps an internal error onto the wire error schema. Secrets
// never reach here: lower layers redact diagnostics before wrapping them.
func errorResponse(err error) response {
	switch {
	case errors.Is(err, ErrNotFound):
		return response{Err: &wireError{Kind: errKindNotFound}}
	case errors.Is(err, ErrOperationNotSupported):
		return response{Err: &wireError{Kind: errKindOperationNotSupported}}
	case errors.Is(err, ErrURLNotSupported):
		return response{Err: &wireError{Kind: errKindURLNotSupported}}
	}

	var causedBy []string
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		causedBy = append(causedBy, cause.Error())
	}
	return response{Err: &wireError{
		Kind:     errKindOther,
		Message:  err.Error(),
		CausedBy: causedBy,
	}}
}
