package notify

import (
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

const defaultQueueSize = 100

// sender is the part of *tgbot.BotAPI used for delivery.
type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram delivers position events to a set of chats. Messages are queued and sent by
// a single goroutine so trading never waits on Telegram; a full queue drops the message.
type Telegram struct {
	bot     sender
	chatIDs []int64
	logger  *zap.Logger

	queue chan string
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func NewTelegram(token string, chatIDs []int64, queueSize int, logger *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegram(b, chatIDs, queueSize, logger), nil
}

func newTelegram(bot sender, chatIDs []int64, queueSize int, logger *zap.Logger) *Telegram {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	t := &Telegram{
		bot:     bot,
		chatIDs: chatIDs,
		logger:  logger,
		queue:   make(chan string, queueSize),
		done:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

func (t *Telegram) NotifyOpened(pos *domain.Position) {
	t.enqueue(FormatOpened(pos))
}

func (t *Telegram) NotifyClosed(pos *domain.Position) {
	t.enqueue(FormatClosed(pos))
}

func (t *Telegram) enqueue(msg string) {
	select {
	case <-t.done:
		return
	default:
	}

	select {
	case t.queue <- msg:
	default:
		t.logger.Warn("Telegram queue full, dropping message", zap.Int("queue_size", cap(t.queue)))
	}
}

func (t *Telegram) run() {
	defer t.wg.Done()
	for {
		select {
		case msg := <-t.queue:
			t.send(msg)
		case <-t.done:
			// flush what was queued before Close
			for {
				select {
				case msg := <-t.queue:
					t.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (t *Telegram) send(msg string) {
	for _, chatID := range t.chatIDs {
		if _, err := t.bot.Send(tgbot.NewMessage(chatID, msg)); err != nil {
			t.logger.Warn("Failed to send Telegram message", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

// Close stops accepting messages and waits until the queue is flushed.
func (t *Telegram) Close() {
	t.once.Do(func() { close(t.done) })
	t.wg.Wait()
}

// Log writes position events to the logger. Used when Telegram is disabled.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) NotifyOpened(pos *domain.Position) {
	l.logger.Info("Position opened",
		zap.Int64("id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Stringer("grid_level", pos.GridLevelPrice),
		zap.Stringer("entry", pos.StartPrice),
		zap.Stringer("take_profit", pos.TakeProfitPrice),
		zap.Stringer("stop_loss", pos.StopLossPrice))
}

func (l *Log) NotifyClosed(pos *domain.Position) {
	l.logger.Info("Position closed",
		zap.Int64("id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Stringer("entry", pos.StartPrice),
		zap.Stringer("exit", pos.EndPrice),
		zap.Stringer("pnl", pos.PnL()))
}
