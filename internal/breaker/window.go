package breaker

import "github.com/kirillm/riskgate/internal/domain"

// Window кольцевой буфер фиксированной емкости; при переполнении вытесняет самую старую сделку
type Window struct {
	buf   []domain.TradeOutcome
	start int
	size  int
}

// NewWindow создает пустое окно емкостью capacity (минимум 1)
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]domain.TradeOutcome, capacity)}
}

// Push добавляет сделку в конец окна
func (w *Window) Push(o domain.TradeOutcome) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = o
		w.size++
		return
	}
	w.buf[w.start] = o
	w.start = (w.start + 1) % len(w.buf)
}

// Len количество сделок в окне
func (w *Window) Len() int {
	return w.size
}

// Cap емкость окна
func (w *Window) Cap() int {
	return len(w.buf)
}

// Contains сообщает, есть ли в окне сделка с данным trade_id
func (w *Window) Contains(tradeID string) bool {
	for i := 0; i < w.size; i++ {
		if w.buf[(w.start+i)%len(w.buf)].TradeID == tradeID {
			return true
		}
	}
	return false
}

// Items возвращает копию содержимого от старых к новым
func (w *Window) Items() []domain.TradeOutcome {
	out := make([]domain.TradeOutcome, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Resized строит новое окно емкостью capacity из самых свежих min(Len, capacity) сделок
func (w *Window) Resized(capacity int) *Window {
	next := NewWindow(capacity)
	items := w.Items()
	if len(items) > next.Cap() {
		items = items[len(items)-next.Cap():]
	}
	for _, o := range items {
		next.Push(o)
	}
	return next
}

// Clear опустошает окно
func (w *Window) Clear() {
	w.start = 0
	w.size = 0
}
