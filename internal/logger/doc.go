// Package logger wraps zap for the alarm processor.
//
// A single sugared logger is installed globally and carried through
// context.Context, so every stage logs with the scope (partition, alarm,
// component) it was called from. Output goes to the console by default and
// can be redirected to a rotating file.
package logger
