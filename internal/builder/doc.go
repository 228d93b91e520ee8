/*
Package builder compiles a project's GPU kernels and generates the Go source
that embeds the resulting code objects.

A Builder is the configuration object: the resolved toolchain, the source set,
the output directory and compiler options. Build runs one invocation through
these phases:

 1. Validation: the toolchain root must be known, the worker count must be
    valid, and no two kernels may map to the same generated name (and so the
    same artifact). Nothing is spawned before these checks pass.

 2. Preparation: the output directory is created, element-type templates are
    instantiated into it and include files are copied next to the kernels so
    local #include directives resolve without the original tree layout.

 3. Filtering: each kernel is checked against its artifact's modification
    time and only stale kernels get a compile task.

 4. Execution: tasks run on a worker pool sized to the physical core count.
    Every task runs to completion; a failing compiler does not stop its
    siblings. Only a compiler that cannot be started aborts the batch.

 5. Validation of results: results are inspected in kernel order and the
    first failure is returned with its command line and captured output.

 6. Emission: if anything was compiled, an artifact was missing before the
    run, or the bindings file does not exist, the Go bindings and their
    depfile are rewritten. Otherwise the previous files are left untouched.
*/
package builder
