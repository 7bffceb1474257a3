// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing session events and conversations and
// when asserting what a turn wrote to its stream sink. They are not intended
// for production usage.
package testutil
