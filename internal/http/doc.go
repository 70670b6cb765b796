// Package http provides HTTP handlers and middleware for the tatemoku API.
//
// Every route except GET /healthz requires an HS256 bearer token whose subject is the
// participant id and whose role claim is member, admin or super_admin. The router exposes:
//   - POST /availability/search: ranks meeting slots. Body: {"userEmails","timeMin","timeMax",
//     "duration","preferredTimes":[{"start","end"}],"preferredPatterns":[{"frequency",
//     "weekdays","from","to"}]}. The Google access token travels in X-Google-Token. The
//     response carries the top slots in data.bestSlots and the full count in
//     data.totalSlotsFound.
//   - POST /memberships/moves: moves one participant. Body: {"memberId","from","to","version"}
//     where from/to are {"kind","id"} or null for the unassigned pool.
//   - PUT /containers/{kind}/{id}/members: bulk assignment. Body: {"participantIds"}.
//   - POST /participants, DELETE /participants/{id}/memberships.
//   - POST /containers, GET|PATCH|DELETE /containers/{kind}/{id}.
//   - POST /sessions, POST /sessions/{id}/participants, GET /sessions/{id}/layout.
//   - GET /changelog?participant=&container=&actor=&action=&since=&until=&limit=&offset=.
//
// Errors are JSON {"error_code","message","errors"} with Japanese messages. Version and
// capacity conflicts answer 409 with currentVersion (and capacity/members); invariant
// violations answer 409 with error_code INVARIANT_VIOLATION; calendar outages answer 503.
package http
