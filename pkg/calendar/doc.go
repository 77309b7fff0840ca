// Package calendar suppresses rule activations for (cluster, date) pairs
// recorded by operators.
package calendar
