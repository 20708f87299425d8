/*
Package engine assembles the per-profile runtime: the profile lock and
database, the store over registered SDs, the compaction and GC loops, the
polling dispatcher with its filesystem watcher, and the live documents of
open notes.

	eng, err := engine.Open(profileDir, config.Default())
	...
	eng.AddSD("personal", "/sync/NoteCove")
	eng.Start()
	note, _ := eng.OpenNote("personal", noteID)
	note.AppendText("hello")
	...
	eng.Stop()

Local mutations on live documents persist automatically as update files;
remote updates arrive through the poll loop (accelerated by filesystem
events) and merge into open documents.
*/
package engine
