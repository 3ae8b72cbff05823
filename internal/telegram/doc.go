// Package telegram connects the bot to the Telegram Bot API through
// telebot. It owns the long poller, routes text, callback and membership
// updates to the dispatcher, and implements the chat actions the rest of
// the bot needs outside of an update: sending, leaving groups and looking
// up chat administrators.
package telegram
