// Package dispatchtest provides test doubles for code driven by the
// dispatcher: a recording tele.Context and fake admin sources.
package dispatchtest

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v3"
)

// Sent is one outgoing message recorded by Context.
type Sent struct {
	What any
	Opts []any
}

// Text returns the message text when What is a string.
func (s Sent) Text() string {
	text, _ := s.What.(string)
	return text
}

// Markup returns the inline keyboard passed with the message, if any.
func (s Sent) Markup() *tele.ReplyMarkup {
	for _, o := range s.Opts {
		switch v := o.(type) {
		case *tele.ReplyMarkup:
			return v
		case *tele.SendOptions:
			if v.ReplyMarkup != nil {
				return v.ReplyMarkup
			}
		}
	}
	return nil
}

// Context implements the parts of tele.Context the bot uses. Methods that
// are not overridden panic through the nil embedded interface.
type Context struct {
	tele.Context

	SenderVal   *tele.User
	ChatVal     *tele.Chat
	MessageVal  *tele.Message
	CallbackVal *tele.Callback
	MemberVal   *tele.ChatMemberUpdate

	mu        sync.Mutex
	sent      []Sent
	edits     []Sent
	responses []*tele.CallbackResponse
	store     map[string]any
}

// NewMessage builds a context for a text message. Negative chat ids are
// supergroups, positive ids private chats.
func NewMessage(userID, chatID int64, text string) *Context {
	chat := newChat(chatID)
	user := &tele.User{ID: userID, Username: "user" + itoa(userID), FirstName: "User"}
	return &Context{
		SenderVal:  user,
		ChatVal:    chat,
		MessageVal: &tele.Message{ID: 1, Sender: user, Chat: chat, Text: text, Payload: payload(text)},
	}
}

// NewCallback builds a context for an inline button press.
func NewCallback(userID, chatID int64, data string) *Context {
	chat := newChat(chatID)
	user := &tele.User{ID: userID, FirstName: "User"}
	msg := &tele.Message{ID: 10, Chat: chat, Sender: &tele.User{ID: 1, IsBot: true}}
	return &Context{
		SenderVal:   user,
		ChatVal:     chat,
		MessageVal:  msg,
		CallbackVal: &tele.Callback{ID: "cb1", Sender: user, Message: msg, Data: data},
	}
}

// NewMembership builds a context for a change of the bot's own membership
// in chatID, made by userID.
func NewMembership(userID, chatID int64, from, to tele.MemberStatus) *Context {
	chat := newChat(chatID)
	user := &tele.User{ID: userID, FirstName: "User"}
	bot := &tele.User{ID: 1, IsBot: true}
	return &Context{
		SenderVal: user,
		ChatVal:   chat,
		MemberVal: &tele.ChatMemberUpdate{
			Chat:          chat,
			Sender:        user,
			OldChatMember: &tele.ChatMember{User: bot, Role: from},
			NewChatMember: &tele.ChatMember{User: bot, Role: to},
		},
	}
}

// ReplyTo makes the message a reply to a message from user.
func (c *Context) ReplyTo(user *tele.User) *Context {
	c.MessageVal.ReplyTo = &tele.Message{ID: 0, Sender: user, Chat: c.ChatVal}
	return c
}

func newChat(chatID int64) *tele.Chat {
	if chatID < 0 {
		return &tele.Chat{ID: chatID, Type: tele.ChatSuperGroup, Title: "Test Group"}
	}
	return &tele.Chat{ID: chatID, Type: tele.ChatPrivate}
}

func payload(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	_, rest, _ := strings.Cut(text, " ")
	return strings.TrimSpace(rest)
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func (c *Context) Sender() *tele.User       { return c.SenderVal }
func (c *Context) Chat() *tele.Chat         { return c.ChatVal }
func (c *Context) Message() *tele.Message   { return c.MessageVal }
func (c *Context) Callback() *tele.Callback { return c.CallbackVal }

func (c *Context) ChatMember() *tele.ChatMemberUpdate { return c.MemberVal }

func (c *Context) Text() string {
	if c.MessageVal == nil {
		return ""
	}
	return c.MessageVal.Text
}

func (c *Context) Data() string {
	if c.CallbackVal != nil {
		return c.CallbackVal.Data
	}
	return ""
}

// Args mirrors telebot: the command payload split on whitespace, or the
// callback data split on '|'.
func (c *Context) Args() []string {
	if c.CallbackVal != nil {
		return strings.Split(c.CallbackVal.Data, "|")
	}
	if c.MessageVal != nil {
		if p := strings.TrimSpace(c.MessageVal.Payload); p != "" {
			return strings.Fields(p)
		}
	}
	return nil
}

func (c *Context) Send(what any, opts ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{What: what, Opts: opts})
	return nil
}

func (c *Context) Reply(what any, opts ...any) error {
	return c.Send(what, opts...)
}

func (c *Context) Edit(what any, opts ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, Sent{What: what, Opts: opts})
	return nil
}

func (c *Context) Respond(resp ...*tele.CallbackResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &tele.CallbackResponse{}
	if len(resp) > 0 && resp[0] != nil {
		r = resp[0]
	}
	c.responses = append(c.responses, r)
	return nil
}

func (c *Context) Get(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store[key]
}

func (c *Context) Set(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = make(map[string]any)
	}
	c.store[key] = val
}

// Sent returns the messages sent so far.
func (c *Context) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sent)
}

// Edits returns the message edits made so far.
func (c *Context) Edits() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.edits)
}

// LastText returns the text of the last sent message, or "".
func (c *Context) LastText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return ""
	}
	return c.sent[len(c.sent)-1].Text()
}

// Responses returns the callback answers made so far.
func (c *Context) Responses() []*tele.CallbackResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.responses)
}

// Admins is an in-memory super admin and allowed group list.
type Admins struct {
	mu     sync.Mutex
	Super  map[int64]bool
	Groups map[int64]bool
}

// NewAdmins creates an Admins with the given super admins.
func NewAdmins(super ...int64) *Admins {
	a := &Admins{Super: make(map[int64]bool), Groups: make(map[int64]bool)}
	for _, id := range super {
		a.Super[id] = true
	}
	return a
}

// AllowGroup adds chatID to the allowed groups.
func (a *Admins) AllowGroup(chatID int64) *Admins {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Groups[chatID] = true
	return a
}

func (a *Admins) IsSuperAdmin(userID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Super[userID]
}

func (a *Admins) IsGroupAllowed(chatID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Groups[chatID]
}

// Resolver is a fixed table of group admins.
type Resolver struct {
	mu     sync.Mutex
	admins map[[2]int64]bool
	Err    error
	Calls  int
}

// NewResolver creates an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{admins: make(map[[2]int64]bool)}
}

// SetAdmin marks userID as an administrator of chatID.
func (r *Resolver) SetAdmin(chatID, userID int64) *Resolver {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins[[2]int64{chatID, userID}] = true
	return r
}

func (r *Resolver) IsChatAdmin(_ context.Context, chatID, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return false, r.Err
	}
	return r.admins[[2]int64{chatID, userID}], nil
}

// Enabled is an in-memory per-chat module switch. Modules are enabled
// unless disabled.
type Enabled struct {
	mu       sync.Mutex
	disabled map[string]bool
}

// NewEnabled creates an Enabled with every module on.
func NewEnabled() *Enabled {
	return &Enabled{disabled: make(map[string]bool)}
}

// Disable switches module off in chatID.
func (e *Enabled) Disable(module string, chatID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disabled[module+"@"+itoa(chatID)] = true
}

func (e *Enabled) IsEnabledForChat(module string, chatID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.disabled[module+"@"+itoa(chatID)]
}
