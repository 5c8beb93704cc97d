package entity

// ConversationState состояние диалога с ботом
type ConversationState string

const (
	StateMainMenu      ConversationState = "main_menu"      // В главном меню
	StateAwaitingPhoto ConversationState = "awaiting_photo" // Ожидание фото листа
	StateAnalyzing     ConversationState = "analyzing"      // Идёт диагностика
)

// Conversation контекст чата
type Conversation struct {
	ChatID        int64             // Telegram Chat ID
	UserID        int64             // Telegram User ID
	State         ConversationState // Текущее состояние
	PlaceholderID int               // ID сообщения "анализирую", которое редактируется по ходу диагностики
}

// NewConversation создаёт контекст с начальным состоянием
func NewConversation(chatID, userID int64) *Conversation {
	return &Conversation{
		ChatID: chatID,
		UserID: userID,
		State:  StateMainMenu,
	}
}

// Clone копия контекста; хранилища не отдают наружу свои экземпляры
func (c *Conversation) Clone() *Conversation {
	clone := *c
	return &clone
}

// SetState обновляет состояние
func (c *Conversation) SetState(state ConversationState) {
	c.State = state
}

// BeginAnalysis запоминает сообщение-заглушку
func (c *Conversation) BeginAnalysis(placeholderID int) {
	c.State = StateAnalyzing
	c.PlaceholderID = placeholderID
}

// FinishAnalysis возвращает чат в главное меню
func (c *Conversation) FinishAnalysis() {
	c.State = StateMainMenu
	c.PlaceholderID = 0
}

// InFlight true, пока заглушка ещё не получила финальную правку
func (c *Conversation) InFlight() bool {
	return c.State == StateAnalyzing && c.PlaceholderID != 0
}
