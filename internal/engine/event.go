package engine

import "strings"

// Kind is the shape of an incoming event.
type Kind string

const (
	KindCommand  Kind = "command"
	KindText     Kind = "text"
	KindCallback Kind = "callback"
	KindPhoto    Kind = "photo"
)

// Event is one message received from the transport.
type Event struct {
	Kind   Kind   `json:"kind"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Args   string `json:"args,omitempty"`
	// Body is the text, the callback token or the scanned photo payload.
	Body string `json:"body,omitempty"`
	// MessageID identifies the message a callback button belongs to.
	MessageID string `json:"message_id,omitempty"`
}

// Command builds a command event. A leading slash on name is dropped.
func Command(userID int64, name, args string) Event {
	return Event{Kind: KindCommand, UserID: userID, Name: strings.TrimPrefix(name, "/"), Args: args}
}

// Text builds a free-text event.
func Text(userID int64, body string) Event {
	return Event{Kind: KindText, UserID: userID, Body: body}
}

// Callback builds a button-press event.
func Callback(userID int64, token, messageID string) Event {
	return Event{Kind: KindCallback, UserID: userID, Body: token, MessageID: messageID}
}

// Photo builds a check-in submission carrying the payload read from a photo.
func Photo(userID int64, payload string) Event {
	return Event{Kind: KindPhoto, UserID: userID, Body: payload}
}

// ActionKind is the shape of an outbound action.
type ActionKind string

const (
	ActionReply  ActionKind = "reply"
	ActionNotify ActionKind = "notify"
	ActionEdit   ActionKind = "edit"
	ActionPhoto  ActionKind = "photo"
)

// Button is a menu entry. Inline buttons carry callback data.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data,omitempty"`
}

// Menu is a keyboard attached to a reply.
type Menu struct {
	Rows   [][]Button `json:"rows,omitempty"`
	Inline bool       `json:"inline,omitempty"`
	Remove bool       `json:"remove,omitempty"`
}

// Outbound is an action for the transport to perform.
type Outbound struct {
	Kind      ActionKind `json:"kind"`
	UserID    int64      `json:"user_id"`
	Text      string     `json:"text"`
	Menu      *Menu      `json:"menu,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	Photo     []byte     `json:"photo,omitempty"`
	PhotoURL  string     `json:"photo_url,omitempty"`
	Category  string     `json:"category,omitempty"`
	Delivered bool       `json:"delivered,omitempty"`
}

// Reply answers the user who sent the event.
func Reply(userID int64, text string, menu *Menu) Outbound {
	return Outbound{Kind: ActionReply, UserID: userID, Text: text, Menu: menu}
}

// Notify addresses a third party.
func Notify(target int64, category, text string) Outbound {
	return Outbound{Kind: ActionNotify, UserID: target, Category: category, Text: text}
}

// Edit replaces the text of a message previously sent to the user.
func Edit(userID int64, messageID, text string) Outbound {
	return Outbound{Kind: ActionEdit, UserID: userID, MessageID: messageID, Text: text}
}

// PhotoReply answers with an image; url is used instead of png when set.
func PhotoReply(userID int64, caption string, png []byte, url string) Outbound {
	return Outbound{Kind: ActionPhoto, UserID: userID, Text: caption, Photo: png, PhotoURL: url}
}

// Keyboard builds a reply keyboard with one button per row.
func Keyboard(labels ...string) *Menu {
	m := &Menu{}
	for _, l := range labels {
		m.Rows = append(m.Rows, []Button{{Text: l}})
	}
	return m
}

// Inline builds an inline keyboard with one button per row.
func Inline(buttons ...Button) *Menu {
	m := &Menu{Inline: true}
	for _, b := range buttons {
		m.Rows = append(m.Rows, []Button{b})
	}
	return m
}

// RemoveKeyboard hides any reply keyboard.
func RemoveKeyboard() *Menu {
	return &Menu{Remove: true}
}
