// Package handshake implements the connection phases of the game server.
//
// A connection starts on the initial router, which accepts only Connect.
// The client's protocol hash must equal the registry fingerprint. When an
// Authenticator is configured the connection moves to the authenticating
// router and waits for AuthToken; otherwise it joins the game directly.
// Joining sends ServerInfo, WorldSettings and JoinWorld, then broadcasts
// the player list.
//
// The game router handles chat, movement and asset requests. Every game
// handler runs behind RequireIdentity.
package handshake
