// Package dialog implements the per-session conversation core: frame
// decoding, the turn-taking state machine, the response pipeline, and the
// single-writer egress multiplexer.
//
// One Session owns one client connection. Inbound bytes are split into
// control frames and PCM; PCM drives the voice-activity detector, whose
// edges drive the Controller. The Controller is the sole owner of the
// generation counter, the dialog history, and the current turn; every
// asynchronous worker captures the generation at dispatch and stale work
// is dropped at the egress queue head before it reaches the wire.
package dialog
