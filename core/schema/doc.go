/*
Package schema defines the typed in-memory form of a schema document.

A schema document declares entities with their properties, relationships
and access rules. It is pure data: the loader in package manifest builds
and validates a Document, and every other component derives its view
from it.

# Document

A minimal document in YAML:

	name: Bookshop
	entities:
	  - name: Author
	    properties:
	      - { name: name, type: string, constraints: { minLength: 1 } }
	    relationships:
	      - { kind: has-many, target: Book }
	    policies:
	      read: public
	      "*": authenticated

	  - name: Book
	    properties:
	      - title
	      - { name: price, type: money, nullable: true }
	    relationships:
	      - { kind: belongs-to, target: Author }
	    policies:
	      "*": public

# Property Kinds

The set of kinds is closed:

  - string:    short text
  - text:      long text
  - number:    floating-point value
  - integer:   whole number
  - money:     number rounded to two decimals
  - boolean:   true or false
  - date:      calendar date, YYYY-MM-DD
  - timestamp: RFC 3339 date and time
  - email:     email address
  - link:      absolute http(s) URL
  - uuid:      RFC 4122 identifier
  - enum:      one of values
  - password:  hashed on write, never returned
  - json:      arbitrary JSON value

# Relationships

belongs-to places a foreign key on the declaring entity. has-many reads the
foreign key on the target. many-to-many goes through a join table. The
cascade flag decides whether deleting a parent removes its dependents or
is refused while dependents exist.

# Policies

Rules map an operation (create, read, update, delete or the wildcard "*")
to an access level: public, authenticated, a list of roles, or deny. An
operation with no rule is denied.
*/
package schema
