// Package riglog configures and dispatches logging for rig acquisition
// software on top of rs/zerolog.
//
// Records flow through a tree of named loggers. Each record is encoded once
// as JSON and handed to the sinks of the emitting logger and its ancestors:
// console, size-rotated files named after their level, a remote collector
// that also copies every record to a shared local backup file, and email.
// Every record carries project, component_id, rig_name, hostname, version and
// run_id fields.
//
// Setup applies a declarative configuration (embedded default, file, or a key
// in a redis config store), drops sinks whose directory or host cannot be
// reached and arms an exit report that logs elapsed run time and, if asked,
// mails it.
//
// Typical usage
//
//	func main() {
//		defer riglog.HandleExit()
//		if err := riglog.Setup(riglog.WithProjectName("np_rig"),
//			riglog.WithEmailAddress("ops@example.org")); err != nil {
//			panic(err)
//		}
//		log := riglog.GetLogger("acquisition")
//		log.InfoWith().Str("session", id).Msg("started")
//		riglog.Web("np_rig").ErrorWith().Err(err).Msg("stream stalled")
//	}
//
// Errors passed to Err or AnErr are expanded into their cause chain under the
// field name suffixed with _chain, _root, _history and _ops, plus _root_op
// for Station-Manager DetailedError links.
package riglog
