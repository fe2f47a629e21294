// Package service assembles the agent and principal processes from config.
package service
