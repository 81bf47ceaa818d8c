// Package notify delivers host flip notifications. LogNotifier writes them
// to the structured log, MailNotifier sends them by email and Damped holds
// them back for hosts that keep flapping.
package notify
