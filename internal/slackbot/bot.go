// Package slackbot receives app mentions over Slack Socket Mode and replies
// in the mention's thread.
package slackbot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/askdb/askdb/internal/assistant"
	"github.com/askdb/askdb/internal/observability"
)

const defaultDrainTimeout = 30 * time.Second

type Config struct {
	BotToken string
	AppToken string
	Debug    bool
	// DrainTimeout bounds how long in-flight mentions may keep running after
	// Run's context is canceled before their own contexts are canceled.
	DrainTimeout time.Duration
}

// MentionHandler answers one mention. *assistant.Assistant implements it.
type MentionHandler interface {
	HandleMention(ctx context.Context, event assistant.MentionEvent, replier assistant.Replier) error
}

// Socket is the part of the Socket Mode client the bot drives.
type Socket interface {
	RunContext(ctx context.Context) error
	Ack(req socketmode.Request, payload ...interface{})
	Incoming() <-chan socketmode.Event
}

type Bot struct {
	socket       Socket
	replier      assistant.Replier
	handler      MentionHandler
	logger       *slog.Logger
	drainTimeout time.Duration
}

func New(cfg Config, handler MentionHandler, logger *slog.Logger) (*Bot, error) {
	botToken := strings.TrimSpace(cfg.BotToken)
	appToken := strings.TrimSpace(cfg.AppToken)
	if botToken == "" {
		return nil, fmt.Errorf("slack bot token is required")
	}
	if !strings.HasPrefix(appToken, "xapp-") {
		return nil, fmt.Errorf("slack app-level token (xapp-) is required for socket mode")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	slackLog := slog.NewLogLogger(logger.With(slog.String("component", "slack")).Handler(), slog.LevelDebug)

	api := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
		slack.OptionDebug(cfg.Debug),
		slack.OptionLog(slackLog),
	)
	client := socketmode.New(api,
		socketmode.OptionDebug(cfg.Debug),
		socketmode.OptionLog(slackLog),
	)
	bot := NewWithSocket(socketClient{Client: client}, NewReplier(api), handler, logger)
	if cfg.DrainTimeout > 0 {
		bot.drainTimeout = cfg.DrainTimeout
	}
	return bot, nil
}

func NewWithSocket(socket Socket, replier assistant.Replier, handler MentionHandler, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bot{socket: socket, replier: replier, handler: handler, logger: logger, drainTimeout: defaultDrainTimeout}
}

// Run reads events until ctx is canceled, the socket stops, or its event
// channel closes. It returns after every in-flight mention has been handled.
// Handlers do not observe ctx's cancellation, so a mention that is already
// being answered still gets its reply, unless it outlives the drain timeout.
func (b *Bot) Run(ctx context.Context) error {
	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()

	var inflight sync.WaitGroup
	defer b.drain(&inflight, cancelHandlers)

	socketDone := make(chan error, 1)
	go func() { socketDone <- b.socket.RunContext(ctx) }()

	events := b.socket.Incoming()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-socketDone:
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return fmt.Errorf("socket mode: %w", err)
			}
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.dispatch(handlerCtx, evt, &inflight)
		}
	}
}

func (b *Bot) drain(inflight *sync.WaitGroup, cancelHandlers context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(b.drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		b.logger.Warn("mention handlers outlived drain timeout, canceling", slog.Duration("timeout", b.drainTimeout))
		cancelHandlers()
		<-done
	}
}

func (b *Bot) dispatch(ctx context.Context, evt socketmode.Event, inflight *sync.WaitGroup) {
	switch evt.Type {
	case socketmode.EventTypeConnecting, socketmode.EventTypeConnected, socketmode.EventTypeHello:
		b.logger.DebugContext(ctx, "socket mode status", slog.String("type", string(evt.Type)))
	case socketmode.EventTypeInvalidAuth, socketmode.EventTypeConnectionError, socketmode.EventTypeIncomingError:
		b.logger.ErrorContext(ctx, "socket mode error", slog.String("type", string(evt.Type)), slog.Any("data", evt.Data))
	case socketmode.EventTypeErrorBadMessage:
		b.malformed(ctx, "undecodable socket mode message", slog.Any("data", evt.Data))
	case socketmode.EventTypeEventsAPI:
		b.ack(evt)
		event, err := mentionFromEvent(evt)
		if err != nil {
			b.malformed(ctx, "undecodable mention event", slog.Any("error", err))
			return
		}
		if event == nil {
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			b.handle(ctx, *event)
		}()
	default:
		b.ack(evt)
	}
}

func (b *Bot) handle(ctx context.Context, event assistant.MentionEvent) {
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.ErrorContext(ctx, "mention handler panicked", slog.String("ts", event.TS), slog.Any("panic", recovered))
		}
	}()
	if err := b.handler.HandleMention(ctx, event, b.replier); err != nil {
		b.logger.ErrorContext(ctx, "handle mention failed",
			slog.String("channel", event.Channel),
			slog.String("ts", event.TS),
			slog.Any("error", err),
		)
	}
}

func (b *Bot) ack(evt socketmode.Event) {
	if evt.Request != nil {
		b.socket.Ack(*evt.Request)
	}
}

func (b *Bot) malformed(ctx context.Context, msg string, attrs ...any) {
	observability.IncrementMalformedEvents()
	b.logger.WarnContext(ctx, msg, attrs...)
}

// mentionFromEvent returns nil without error for well-formed events that are
// not app mentions.
func mentionFromEvent(evt socketmode.Event) (*assistant.MentionEvent, error) {
	payload, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected events api payload %T", assistant.ErrMalformedEvent, evt.Data)
	}
	if payload.Type != slackevents.CallbackEvent {
		return nil, nil
	}
	switch inner := payload.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if inner.TimeStamp == "" || inner.Channel == "" {
			return nil, fmt.Errorf("%w: app mention without ts or channel", assistant.ErrMalformedEvent)
		}
		return &assistant.MentionEvent{
			Text:     inner.Text,
			TS:       inner.TimeStamp,
			ThreadTS: inner.ThreadTimeStamp,
			Channel:  inner.Channel,
			User:     inner.User,
		}, nil
	case nil:
		return nil, fmt.Errorf("%w: callback without inner event", assistant.ErrMalformedEvent)
	default:
		return nil, nil
	}
}

type socketClient struct {
	*socketmode.Client
}

func (c socketClient) Incoming() <-chan socketmode.Event {
	return c.Events
}
