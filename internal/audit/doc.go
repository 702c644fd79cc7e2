// Package audit records security-relevant session events.
//
// # Components
//
//   - [Event] is the structured record (type, user, session, client, outcome, metadata).
//   - [Sink] consumes events: [NoOpSink], [ChannelSink], [JSONWriterSink], [ZapSink], [MultiSink].
//   - [Dispatcher] relays routine events asynchronously with drop-if-full or block-if-full semantics.
//
// Reuse detection events are emitted on the sink directly, never through the
// dispatcher, so they are recorded before the rejecting request returns.
//
// # What this package must NOT do
//
//   - Decide which events to emit.
//   - Import goSession or any sibling internal package.
package audit
