package echoapi

import (
	"context"
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/chat"
)

const (
	chatWriteWait  = 10 * time.Second
	chatPongWait   = 60 * time.Second
	chatPingPeriod = chatPongWait * 9 / 10
	chatMaxMsgSize = 8 << 10
)

func (s *server) registerTaskAPI(g module) {
	svc := s.opts.TaskSvc
	registerCRUD(g, s.schema, "Task", svc.Tasks(), noMiddleware, noMiddleware)
	registerCRUD(g, s.schema, "TaskAttachment", svc.Attachments(), noMiddleware, noMiddleware)
}

func (s *server) registerChatAPI(g module) {
	registerCRUD(g, s.schema, "ChatMessage", s.opts.ChatSvc.Records(), noMiddleware, adminMiddleware())
}

func (s *server) registerChatSocket(g *echo.Group) {
	g.GET("/:room_name", s.chatSocket)
}

type (
	// ChatInbound is what clients send on the socket.
	ChatInbound struct {
		Message string `json:"message"`
	}

	// ChatError is sent back on the socket when a message is rejected.
	ChatError struct {
		Error interface{} `json:"error"`
	}
)

func (s *server) upgrader() websocket.Upgrader {
	origins := s.opts.Conf.Server.CORSOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || lo.Contains(origins, "*") || lo.Contains(origins, origin)
		},
	}
}

// chatSocket joins the chat room of a task: the history is replayed, then every message
// posted in the room is pushed while the messages sent by the client are posted.
func (s *server) chatSocket(ctx echo.Context) error {
	svc := s.opts.ChatSvc
	reqCtx, cancel := context.WithCancel(ctx.Request().Context())
	defer cancel()

	room, err := svc.Room(reqCtx, ctx.Param("room_name"))
	if err != nil {
		if core.IsNotFound(err) {
			return errHttpNotFound
		}
		return err
	}

	// subscribe first: the messages posted while loading the history are not lost
	messages, err := svc.Subscribe(reqCtx, room)
	if err != nil {
		return err
	}
	history, err := svc.History(reqCtx, room)
	if err != nil {
		return err
	}

	upgrader := s.upgrader()
	ws, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil // the upgrader replied already
	}
	// the deadlines of the http server stay on hijacked connections
	_ = ws.SetWriteDeadline(time.Time{})

	errs := make(chan ChatError, 1)
	done := make(chan struct{})
	go s.chatWriter(reqCtx, ws, history, messages, errs, done)

	s.chatReader(reqCtx, ws, room, requestTranslator(ctx, s.opts.Translator), errs)
	cancel()
	<-done
	return nil
}

func (s *server) chatReader(ctx context.Context, ws *websocket.Conn, room int, trans ut.Translator, errs chan<- ChatError) {
	ws.SetReadLimit(chatMaxMsgSize)
	_ = ws.SetReadDeadline(time.Now().Add(chatPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(chatPongWait))
	})

	for {
		var in ChatInbound
		if err := ws.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.opts.Logger.Debug("chat socket closed: " + err.Error())
			}
			return
		}
		if _, err := s.opts.ChatSvc.Post(ctx, room, in.Message); err != nil {
			select {
			case errs <- s.chatError(err, trans):
			default: // the client is not reading
			}
		}
	}
}

// chatError renders err the way the HTTP error handler does.
func (s *server) chatError(err error, trans ut.Translator) ChatError {
	cause := errors.Cause(err)
	switch origErr := cause.(type) {
	case validator.ValidationErrors:
		fldErrs := make(map[string]string, len(origErr))
		for _, vErr := range origErr {
			fldErrs[vErr.Field()] = vErr.Translate(trans)
		}
		return ChatError{Error: fldErrs}
	case *core.ValidationError:
		if origErr.Fields != nil {
			fldErrs := make(map[string]string, len(origErr.Fields))
			for _, fErr := range origErr.Fields {
				fldErrs[fErr.Field] = core.Translate(trans, fErr.Error)
			}
			return ChatError{Error: fldErrs}
		}
		return ChatError{Error: core.Translate(trans, origErr.Error())}
	}
	if statusOf(cause) != 0 {
		return ChatError{Error: core.Translate(trans, cause.Error())}
	}
	s.opts.Logger.Error("posting chat message", errors.Wrap(err, "posting chat message"))
	return ChatError{Error: http.StatusText(http.StatusInternalServerError)}
}

func (s *server) chatWriter(
	ctx context.Context,
	ws *websocket.Conn,
	history []chat.ChatMessage,
	messages <-chan chat.ChatMessage,
	errs <-chan ChatError,
	done chan<- struct{},
) {
	defer close(done)
	// unblocks the reader when the client is gone
	defer ws.Close()

	ticker := time.NewTicker(chatPingPeriod)
	defer ticker.Stop()

	write := func(v interface{}) error {
		_ = ws.SetWriteDeadline(time.Now().Add(chatWriteWait))
		return ws.WriteJSON(v)
	}

	var lastID int
	for _, msg := range history {
		if err := write(msg); err != nil {
			return
		}
		lastID = msg.ID
	}

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(chatWriteWait))
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.ID <= lastID { // replayed already
				continue
			}
			if err := write(msg); err != nil {
				return
			}
		case reply := <-errs:
			if err := write(reply); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(chatWriteWait)); err != nil {
				return
			}
		}
	}
}
