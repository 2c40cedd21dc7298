// Package core turns a chunked Engaging Networks transaction export into
// records.
//
// This package holds the transform itself, independent of HTTP, storage or
// the command line. It can be fed by the download pipeline, by a backup file
// on disk, or by tests, without modification.
//
// # Pipeline
//
// Bytes flow through three stages, each usable on its own:
//
//   - [LineReassembler]: decodes the configured charset and yields complete
//     lines, holding back partial lines and split multi-byte characters.
//   - [RecordParser]: runs lines through the CSV grammar, captures the header
//     row once, checks mandatory columns and field counts, and builds
//     [Record] values. A quoted field may span lines and batches.
//   - [TransactionStream]: composes the two, sniffs the vendor error channel
//     at offset zero, and checks the record count declared by the server.
//
// [ReadTransactions] drives a TransactionStream from an io.Reader, which is
// how saved exports are re-read.
//
// # Errors
//
// Every failure has its own type ([ArgumentError], [AuthError],
// [TransportError], [VendorError], [SchemaError], [ParseError],
// [BackupWriteError], [IntegrityError]). [KindOf] classifies an error and
// [MapError] converts it into a user-facing message with a support code:
//
//   - ARG001, AUTH001: the request could not be made
//   - NET001, NET002: EN was unreachable or refused the request
//   - VEN001, SCH001, CSV001, CSV002: EN sent something other than an export
//   - BAK001: the backup copy failed
//   - INT001: the export ended short of its declared count
//   - LIM001, CAN001, TMO001: the download was refused, cancelled or timed out
package core
