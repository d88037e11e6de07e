// Command notes is a reference application storing Note records through a
// docrepo repository.
//
//	notes --db-type mongodb --db-url mongodb://localhost:27017 notes put '{"title":"hello"}'
//	notes notes find '{"tags":"work"}' --sort -created_at
package main

import (
	"time"

	"github.com/nimburion/docrepo/pkg/cli"
	"github.com/nimburion/docrepo/pkg/repository/document"
)

// Note is a short text record.
type Note struct {
	document.Base `bson:",inline"`
	Title         string    `bson:"title"`
	Body          string    `bson:"body,omitempty"`
	Tags          []string  `bson:"tags,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
}

// CollectionName implements document.Model.
func (*Note) CollectionName() string { return "notes" }

func main() {
	cli.Execute(cli.NewCommand(cli.Options{
		Name:        "notes",
		Description: "Store and query notes in a document database",
		EnvPrefix:   "NOTES",
		Collections: []cli.Collection{
			cli.ForRecord[Note]("Manage notes"),
		},
	}))
}
