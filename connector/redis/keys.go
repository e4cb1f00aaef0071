package redis

// Redis key naming conventions. Every per-queue key carries the queue name
// as a {hash tag} so a queue's keys land in one cluster slot and the Lua
// scripts may touch them together.

const defaultKeyPrefix = "sqjobs:"

type keys struct {
	prefix string
}

// queues is the Set of declared queue names: sqjobs:queues
func (k keys) queues() string { return k.prefix + "queues" }

// visible is the Sorted Set of message IDs scored by the unix-ms time they
// become receivable: sqjobs:{name}:visible
func (k keys) visible(queue string) string { return k.prefix + "{" + queue + "}:visible" }

// handles maps live delivery handles to message IDs: sqjobs:{name}:handles
func (k keys) handles(queue string) string { return k.prefix + "{" + queue + "}:handles" }

// notify is a short List producers push to so blocked receivers wake up:
// sqjobs:{name}:notify
func (k keys) notify(queue string) string { return k.prefix + "{" + queue + "}:notify" }

// messagePrefix prefixes message Hash keys: sqjobs:{name}:msg:{id}
func (k keys) messagePrefix(queue string) string { return k.prefix + "{" + queue + "}:msg:" }

func (k keys) message(queue, id string) string { return k.messagePrefix(queue) + id }
