// Package account registers users, checks their passwords and opens chat
// sessions for them.
//
// Passwords are stored as Argon2id PHC strings in the user entity's
// profile.password. Login binds a chat identity to the account through a
// session.Store and records the chat as the account's telegram_id so
// notifications can reach it.
package account
