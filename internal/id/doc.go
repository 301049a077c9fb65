// Package id provides identifier generation for the gateway.
//
// Two formats are used:
//
//   - UUID: v4 identifiers assigned to upgraded subscription connections
//   - Trace: 8-character hex identifiers attached to every HTTP request and
//     subscription operation, echoed back in the X-TraceId response header
//
// Both read from crypto/rand through github.com/google/uuid.
package id
