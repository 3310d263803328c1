// Package template renders notification templates.
//
// Templates use a deliberately small syntax: {{name}} substitutes a
// variable (missing variables render as the empty string) and
// {{#if flag}}...{{/if}} includes a block when flag is truthy. Blocks do not
// nest. Register rejects anything else, so Render never sees a template it
// cannot evaluate.
//
// Each template is compiled once into Liquid and evaluated with
// github.com/osteele/liquid. Substituted values are HTML-escaped in the
// HTML body and inserted verbatim in the subject and text body.
package template
