//go:build cgo && db2

package dbconn

// The Db2 driver requires cgo and the IBM clidriver headers and library, so
// it is built only with -tags db2. Without the tag, the db2 dialect fails at
// sql.Open with an unknown driver error.
import _ "github.com/ibmdb/go_ibm_db"
